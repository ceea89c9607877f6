// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"errors"
	"time"
)

// Stage identifies one phase of the processing pipeline.
type Stage string

// Pipeline stages in dependency order.
const (
	StageDiscovery        Stage = "discovery"
	StageVerification     Stage = "verification"
	StageExtraction       Stage = "extraction"
	StageCleaning         Stage = "cleaning"
	StageEntityExtraction Stage = "entity_extraction"
	StageAnalysis         Stage = "analysis"
)

// StageOrder lists all stages in the fixed order the orchestrator polls them.
// An item never enters a later stage's queue before the earlier stage has
// advanced its status.
var StageOrder = []Stage{
	StageDiscovery,
	StageVerification,
	StageExtraction,
	StageCleaning,
	StageEntityExtraction,
	StageAnalysis,
}

// LinkStatus represents the lifecycle state of a candidate link.
type LinkStatus string

// Candidate link status values persisted in the store.
const (
	LinkStatusDiscovered          LinkStatus = "discovered"
	LinkStatusPendingVerification LinkStatus = "pending_verification"
	LinkStatusArticle             LinkStatus = "article"
	LinkStatusRejected            LinkStatus = "rejected"
)

// ArticleStatus represents the lifecycle state of an extracted article.
// Transitions are monotonic forward; no stage moves an article backward.
type ArticleStatus string

// Article status values persisted in the store.
const (
	ArticleStatusExtracted ArticleStatus = "extracted"
	ArticleStatusCleaned   ArticleStatus = "cleaned"
	ArticleStatusWire      ArticleStatus = "wire"
	ArticleStatusLocal     ArticleStatus = "local"
	ArticleStatusOpinion   ArticleStatus = "opinion"
	ArticleStatusObituary  ArticleStatus = "obituary"
	ArticleStatusError     ArticleStatus = "error"
)

// TerminalContentStatuses are the article statuses that mean cleaning has
// produced final content; entity extraction selects from these.
var TerminalContentStatuses = []ArticleStatus{
	ArticleStatusCleaned,
	ArticleStatusWire,
	ArticleStatusLocal,
	ArticleStatusOpinion,
	ArticleStatusObituary,
}

// DetectionType classifies a bot-detection signal observed during a fetch.
type DetectionType string

// Detection event types, weakest to strongest signal.
const (
	DetectionTimeout         DetectionType = "timeout"
	DetectionRepeatedFailure DetectionType = "repeated_failure"
	DetectionRateLimited     DetectionType = "rate_limited_429"
	DetectionForbidden       DetectionType = "forbidden_403"
	DetectionCaptcha         DetectionType = "captcha"
)

// Sentinel entity row values. The sentinel marks "entity extraction ran and
// found nothing", which keeps the pending-entity-extraction query from
// selecting the same zero-entity article forever.
const (
	SentinelEntityText  = "__NO_ENTITIES_FOUND__"
	SentinelEntityLabel = "SENTINEL"
)

// ErrInvariant marks a broken store invariant (e.g. a dataset-isolation query
// returning cross-dataset rows). The orchestrator halts the affected stage on
// this error instead of retrying.
var ErrInvariant = errors.New("pipeline invariant violation")

// Source is a crawlable host registered with the pipeline.
type Source struct {
	ID                  int64
	Host                string
	CanonicalName       string
	BotSensitivity      int
	BotSensitivityAt    time.Time
	BotEncounters       int64
	LastBotDetectionAt  *time.Time
	DiscoveryIntervalUS int64 // microseconds; see DiscoveryInterval
	LastDiscoveryAt     *time.Time
}

// DiscoveryInterval returns the configured gap between discovery runs.
func (s Source) DiscoveryInterval() time.Duration {
	return time.Duration(s.DiscoveryIntervalUS) * time.Microsecond
}

// CandidateLink is a discovered URL awaiting verification and extraction.
type CandidateLink struct {
	ID           int64
	URL          string
	Host         string
	Status       LinkStatus
	DatasetID    *int64
	DiscoveredAt time.Time
}

// Article is the extracted content record for a verified candidate link.
type Article struct {
	ID              int64
	CandidateLinkID int64
	Status          ArticleStatus
	Title           string
	Author          string
	Content         string
	ContentHash     string
	PublishedAt     *time.Time
	PrimaryLabel    *string
	SecondaryLabel  *string
}

// ArticleEntity is one named entity extracted from an article.
type ArticleEntity struct {
	ID          int64
	ArticleID   int64
	EntityText  string
	EntityLabel string
}

// Sentinel reports whether the entity row is the no-entities placeholder.
func (e ArticleEntity) Sentinel() bool {
	return e.EntityText == SentinelEntityText && e.EntityLabel == SentinelEntityLabel
}

// BotDetectionEvent is an append-only record of a blocking signal and the
// sensitivity adjustment it produced.
type BotDetectionEvent struct {
	ID                  int64
	Host                string
	EventType           DetectionType
	DetectedAt          time.Time
	PreviousSensitivity int
	NewSensitivity      int
}

// WorkItem is one claimed unit of stage work. Kind tells the processor which
// table ID refers to.
type WorkItem struct {
	ID        int64
	Kind      WorkKind
	URL       string
	Host      string
	DatasetID *int64
	SourceID  int64
}

// WorkKind distinguishes the table a WorkItem row came from.
type WorkKind string

// Work item kinds.
const (
	WorkSource    WorkKind = "source"
	WorkCandidate WorkKind = "candidate_link"
	WorkArticle   WorkKind = "article"
)

// PlaceEntry is one gazetteer row for a source's coverage area.
type PlaceEntry struct {
	Name     string
	Kind     string
	Lat, Lon float64
}
