// Package queue holds helpers shared by the job queue backends.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
)

// ErrClosed is returned by queue operations after Close.
var ErrClosed = errors.New("queue closed")

// Encode serializes an item envelope for wire backends.
func Encode(item crawler.QueueItem) ([]byte, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal queue item: %w", err)
	}
	return payload, nil
}

// Decode parses an item envelope produced by Encode.
func Decode(payload []byte) (crawler.QueueItem, error) {
	var item crawler.QueueItem
	if err := json.Unmarshal(payload, &item); err != nil {
		return crawler.QueueItem{}, fmt.Errorf("unmarshal queue item: %w", err)
	}
	return item, nil
}

// NextAttempt returns the redelivery of item that becomes ready after delay.
func NextAttempt(item crawler.QueueItem, delay time.Duration, now time.Time) crawler.QueueItem {
	next := item
	next.Attempt = item.Attempt + 1
	next.NotBefore = now.Add(delay).UnixMilli()
	next.Receipt = nil
	return next
}
