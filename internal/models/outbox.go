package models

import "time"

type OutboxEvent struct {
	ID            string
	Topic         string
	Key           string
	Payload       []byte
	Attempts      int32
	NextAttemptAt time.Time
	PublishedAt   *time.Time
	LastError     *string
	CreatedAt     time.Time
}
