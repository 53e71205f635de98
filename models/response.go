package models

// FeedResponse is the envelope returned by the roster endpoint.
type FeedResponse[T any] struct {
	Data []T `json:"data"`
}
