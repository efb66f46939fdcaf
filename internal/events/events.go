package events

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"podcast-illustrator/internal/jobs"
	"podcast-illustrator/internal/pipeline"
)

// DefaultChannel is the pub/sub channel job events are published on.
const DefaultChannel = "podillustrator:jobs"

const (
	TypeAccepted = "job.accepted"
	TypeUpdated  = "job.updated"
)

// Event is the JSON payload published for every persisted job change.
type Event struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Filename  string    `json:"filename,omitempty"`
	FileSize  int64     `json:"file_size,omitempty"`
	Segments  []string  `json:"segments,omitempty"`
}

// Terminal reports whether the event carries a final status.
func (e Event) Terminal() bool {
	return jobs.Status(e.Status).Terminal()
}

func acceptedEvent(u pipeline.Upload) Event {
	return Event{
		Type:      TypeAccepted,
		JobID:     u.JobID,
		Status:    string(u.Record.Status),
		Progress:  u.Record.Progress,
		Message:   u.Record.Message,
		Timestamp: u.Record.Timestamp,
		Filename:  u.Filename,
		FileSize:  u.Size,
	}
}

func updatedEvent(jobID string, rec jobs.Record, segments []string) Event {
	var names []string
	for _, p := range segments {
		names = append(names, filepath.Base(p))
	}
	return Event{
		Type:      TypeUpdated,
		JobID:     jobID,
		Status:    string(rec.Status),
		Progress:  rec.Progress,
		Message:   rec.Message,
		Timestamp: rec.Timestamp,
		Segments:  names,
	}
}

// Publisher announces job changes on a Redis pub/sub channel.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

func NewPublisher(rdb *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel}
}

func (p *Publisher) JobAccepted(ctx context.Context, u pipeline.Upload) error {
	return p.publish(ctx, acceptedEvent(u))
}

func (p *Publisher) JobUpdated(ctx context.Context, jobID string, rec jobs.Record, segments []string) error {
	return p.publish(ctx, updatedEvent(jobID, rec, segments))
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s for %s: %w", ev.Type, ev.JobID, err)
	}
	return nil
}

// Subscribe delivers events from channel to fn until ctx is done or fn
// returns false. Malformed payloads are skipped.
func Subscribe(ctx context.Context, rdb *redis.Client, channel string, fn func(Event) bool) error {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			if !fn(ev) {
				return nil
			}
		}
	}
}
