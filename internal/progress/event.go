package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageRunError       Stage = "RUN_ERROR"
	StageAddressClaimed Stage = "ADDRESS_CLAIMED"
	StageAddressDone    Stage = "ADDRESS_DONE"
	StageLinksFound     Stage = "LINKS_FOUND"
	StageRelinkChunk    Stage = "RELINK_CHUNK"
)

// Mode names the long-running operation that emitted an event.
type Mode string

// Run modes.
const (
	ModeCrawl  Mode = "crawl"
	ModeDomain Mode = "domain"
	ModeSingle Mode = "single"
	ModeRelink Mode = "relink"
)

// Event captures one step of a crawl or relink run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	Mode  Mode
	// Domain scopes address events to a host label.
	Domain    string
	URL       string
	AddressID int64
	PageID    int64
	// Status is the address status reached when the visit finished.
	Status string
	// Outcome is the acquisition outcome of the visit, if any.
	Outcome string
	// Created counts addresses created by link extraction.
	Created int64
	// Processed counts pages handled by a relink chunk.
	Processed int64
	Dur       time.Duration
	Note      string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageAddressClaimed:
		if e.AddressID <= 0 {
			return errors.New("address claimed requires address id")
		}
	case StageAddressDone:
		if e.AddressID <= 0 {
			return errors.New("address done requires address id")
		}
		if e.Status == "" {
			return errors.New("address done requires status")
		}
	case StageLinksFound:
		if e.PageID <= 0 {
			return errors.New("links found requires page id")
		}
	case StageRelinkChunk:
		if e.Processed < 0 {
			return errors.New("processed must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// Emitter accepts progress events without blocking.
type Emitter interface {
	Emit(Event)
}

// Discard is an Emitter that drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}
