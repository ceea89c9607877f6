package telemetry

import "time"

// Record is the flattened, persisted form of an Event. The store sink lowers
// each typed variant into one of these rows; unused columns stay zero.
type Record struct {
	Kind       Kind
	Host       string
	Stage      string
	URL        string
	StatusCode int
	Bytes      int64
	DurationMS int64
	Pending    int64
	CacheName  string
	CacheHit   bool
	Note       string
	At         time.Time
}

// Flatten lowers an Event into its Record form.
func Flatten(evt Event) Record {
	rec := Record{Kind: evt.Kind(), At: evt.OccurredAt()}
	switch e := evt.(type) {
	case FetchOutcome:
		rec.Host = e.Host
		rec.URL = e.URL
		rec.StatusCode = e.StatusCode
		rec.Bytes = e.Bytes
		rec.DurationMS = e.Duration.Milliseconds()
	case Detection:
		rec.Host = e.Host
		rec.Note = string(e.Type)
	case QueueDepth:
		rec.Stage = string(e.Stage)
		rec.Pending = e.Pending
	case CacheAccess:
		rec.CacheName = e.Cache
		rec.CacheHit = e.Hit
	case StageError:
		rec.Stage = string(e.Stage)
		rec.Host = e.Host
		rec.Note = e.Note
	case RunLifecycle:
		rec.Note = string(e.Phase) + " " + e.Note
	}
	return rec
}
