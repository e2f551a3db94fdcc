// Package history journals every publication to the shared table, so recent changes can
// be inspected after the fact.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nyiyui/linkd/goal"
	"github.com/tidwall/buntdb"
)

// Cause of a publication.
const (
	CauseEvent  = "event"
	CauseSweep  = "sweep"
	CauseReload = "reload"
)

type Entry struct {
	Time     time.Time `json:"time"`
	Priority uint8     `json:"priority"`
	Cause    string    `json:"cause"`
	// Trigger is the physical interface or command that started the pass.
	Trigger string    `json:"trigger,omitempty"`
	Changes string    `json:"changes"`
	Link    goal.Link `json:"link"`
}

// Journal stores entries in buntdb, each expiring after the retention period.
type Journal struct {
	db        *buntdb.DB
	retention time.Duration
	clock     clock.Clock
}

// Open opens the journal at path (":memory:" keeps it in memory only).
// A zero retention keeps entries forever.
func Open(path string, retention time.Duration, clk clock.Clock) (*Journal, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Journal{db: db, retention: retention, clock: clk}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func key(t time.Time, priority uint8) string {
	return fmt.Sprintf("entry:%020d:%d", t.UnixNano(), priority)
}

// Record stores e. A zero e.Time is set to now.
func (j *Journal) Record(e Entry) error {
	if e.Time.IsZero() {
		e.Time = j.clock.Now()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var opts *buntdb.SetOptions
	if j.retention > 0 {
		opts = &buntdb.SetOptions{Expires: true, TTL: j.retention}
	}
	return j.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key(e.Time, e.Priority), string(value), opts)
		return err
	})
}

// List returns entries oldest first. A negative priority lists every priority.
// limit <= 0 means no limit; otherwise only the newest limit entries are returned.
func (j *Journal) List(priority int, limit int) ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(tx *buntdb.Tx) error {
		var derr error
		err := tx.AscendKeys("entry:*", func(k, v string) bool {
			var e Entry
			derr = json.Unmarshal([]byte(v), &e)
			if derr != nil {
				derr = fmt.Errorf("decoding %s: %w", k, derr)
				return false
			}
			if priority < 0 || int(e.Priority) == priority {
				entries = append(entries, e)
			}
			return true
		})
		if err != nil {
			return err
		}
		return derr
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
