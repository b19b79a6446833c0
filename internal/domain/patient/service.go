package patient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/medmigrate/medmigrate/pkg/chunk"
)

// Options tunes a migration run. The zero value is not usable; NewService
// fills unset fields with defaults.
type Options struct {
	Collection    string
	BatchSize     int
	Workers       int
	MaxRetries    int
	RetryBackoff  time.Duration
	RateLimit     float64 // documents per second, 0 means unlimited
	FailFast      bool
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
	VerifyMin     int64 // 0 skips post-run verification
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 60 * time.Second
	}
	if o.ReadyInterval <= 0 {
		o.ReadyInterval = 1500 * time.Millisecond
	}
	return o
}

// Failure describes one row or document that did not make it into the store.
// Line is set for rows rejected during normalization, Key for documents
// rejected by the store.
type Failure struct {
	Line   int    `json:"line,omitempty"`
	Key    string `json:"key,omitempty"`
	Reason string `json:"reason"`
}

// Report is the outcome of a migration run. Counts follow the document
// lifecycle: Read rows from the source, Normalized records that passed
// validation, Duplicates collapsed by business key, then Inserted, Updated
// and Failed at the store.
type Report struct {
	RunID      string        `json:"run_id"`
	Read       int           `json:"read"`
	Normalized int           `json:"normalized"`
	Duplicates int           `json:"duplicates"`
	Inserted   int           `json:"inserted"`
	Updated    int           `json:"updated"`
	Failed     int           `json:"failed"`
	Retries    int           `json:"retries"`
	Failures   []Failure     `json:"failures,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// maxReportFailures caps the itemized failure list. Failed keeps the exact
// count; every rejection is also logged as it happens.
const maxReportFailures = 100

func (r *Report) addFailure(f Failure) {
	r.Failed++
	if len(r.Failures) < maxReportFailures {
		r.Failures = append(r.Failures, f)
	}
}

type Service struct {
	store   Store
	log     zerolog.Logger
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time
}

func NewService(store Store, log zerolog.Logger, opts Options) *Service {
	opts = opts.withDefaults()
	s := &Service{store: store, log: log, opts: opts, now: time.Now}
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.BatchSize)
	}
	return s
}

// -- Pipeline --

// Run migrates every row the source yields: normalize, derive business keys,
// collapse duplicates, then upsert in chunks. Re-running against the same
// dataset converges on the same stored state.
func (s *Service) Run(ctx context.Context, src Source) (*Report, error) {
	start := s.now()
	report := &Report{RunID: uuid.NewString()}
	log := s.log.With().Str("run_id", report.RunID).Logger()
	defer func() {
		report.Duration = s.now().Sub(start)
	}()

	if err := s.WaitReady(ctx); err != nil {
		return report, err
	}
	if err := s.store.EnsureIndexes(ctx); err != nil {
		return report, fmt.Errorf("ensure indexes: %w", err)
	}

	rows, err := readRows(src, log)
	if err != nil {
		return report, err
	}
	report.Read = len(rows)

	records, rowFailures, err := s.normalizeRows(ctx, rows)
	if err != nil {
		return report, err
	}
	for _, f := range rowFailures {
		report.addFailure(f)
	}
	report.Normalized = len(rows) - len(rowFailures)

	docs := s.buildDocuments(records)
	report.Duplicates = report.Normalized - len(docs)
	log.Info().
		Int("read", report.Read).
		Int("normalized", report.Normalized).
		Int("duplicates", report.Duplicates).
		Msg("dataset normalized")

	for _, part := range chunk.Slices(docs, s.opts.BatchSize) {
		if s.limiter != nil {
			if err := s.limiter.WaitN(ctx, len(part)); err != nil {
				return report, fmt.Errorf("rate limit wait: %w", err)
			}
		}
		res, retries, err := s.upsertChunk(ctx, part)
		report.Inserted += res.Inserted
		report.Updated += res.Updated
		report.Retries += retries
		for _, f := range res.Failed {
			report.addFailure(Failure{Key: f.Key, Reason: f.Err.Error()})
		}
		if err != nil {
			return report, &BatchError{Err: err}
		}
	}

	if err := s.VerifyCount(ctx); err != nil {
		return report, err
	}

	log.Info().
		Int("inserted", report.Inserted).
		Int("updated", report.Updated).
		Int("failed", report.Failed).
		Dur("duration", s.now().Sub(start)).
		Msg("migration complete")
	return report, nil
}

func readRows(src Source, log zerolog.Logger) ([]Row, error) {
	if cols := src.Columns(); cols != nil {
		if missing := MissingColumns(cols); len(missing) > 0 {
			log.Warn().Strs("missing", missing).Msg("dataset header lacks expected columns")
		}
	}
	var rows []Row
	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read dataset: %w", err)
		}
		rows = append(rows, *row)
	}
}

// normalizeRows validates rows concurrently. Slots in the returned record
// slice line up with the input rows; failed rows leave a nil slot and a
// failure entry. With FailFast the first bad row aborts the run instead.
func (s *Service) normalizeRows(ctx context.Context, rows []Row) ([]*Record, []Failure, error) {
	records := make([]*Record, len(rows))
	rowErrs := make([]*RowError, len(rows))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range rows {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := Normalize(rows[i])
			if err != nil {
				if s.opts.FailFast {
					return err
				}
				var re *RowError
				if !errors.As(err, &re) {
					re = &RowError{Line: rows[i].Line, Reason: err.Error()}
				}
				rowErrs[i] = re
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var failures []Failure
	for _, re := range rowErrs {
		if re == nil {
			continue
		}
		s.log.Warn().Int("line", re.Line).Str("field", re.Field).Str("reason", re.Reason).Msg("row rejected")
		failures = append(failures, Failure{Line: re.Line, Reason: fmt.Sprintf("%s: %s", re.Field, re.Reason)})
	}
	return records, failures, nil
}

// buildDocuments derives business keys and collapses duplicates. The last
// occurrence of a key wins, keeping the position of the first, which matches
// how the source dataset has always been deduplicated.
func (s *Service) buildDocuments(records []*Record) []*Document {
	now := s.now()
	docs := make([]*Document, 0, len(records))
	seen := make(map[string]int, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		key := DeriveKey(rec.NormalizedName, rec.AdmissionDate.Format(dateLayout))
		doc := BuildDocument(rec, key, now)
		if at, ok := seen[key]; ok {
			docs[at] = doc
			continue
		}
		seen[key] = len(docs)
		docs = append(docs, doc)
	}
	return docs
}

// -- Writes --

// upsertChunk writes one chunk, retrying transient failures with exponential
// backoff. Whole-chunk transient errors replay the chunk; per-document
// transient failures replay only those documents. Permanent errors surface
// immediately. The second return value counts the retry attempts taken.
func (s *Service) upsertChunk(ctx context.Context, docs []*Document) (BatchResult, int, error) {
	var total BatchResult
	pending := docs
	backoff := s.opts.RetryBackoff
	retries := 0

	for attempt := 0; ; attempt++ {
		res, err := s.store.UpsertBatch(ctx, pending)
		if err != nil {
			var we *WriteError
			if errors.As(err, &we) && we.Transient && attempt < s.opts.MaxRetries {
				s.log.Warn().Err(err).
					Int("attempt", attempt+1).
					Dur("backoff", backoff).
					Msg("transient batch failure, retrying")
				if serr := sleepCtx(ctx, backoff); serr != nil {
					return total, retries, err
				}
				retries++
				backoff *= 2
				continue
			}
			return total, retries, err
		}

		total.Inserted += res.Inserted
		total.Updated += res.Updated

		var next []*Document
		if len(res.Failed) > 0 {
			byKey := make(map[string]*Document, len(pending))
			for _, d := range pending {
				byKey[d.PatientID] = d
			}
			for _, f := range res.Failed {
				if f.Transient && attempt < s.opts.MaxRetries {
					if d, ok := byKey[f.Key]; ok {
						next = append(next, d)
						continue
					}
				}
				total.Failed = append(total.Failed, f)
			}
		}
		if len(next) == 0 {
			return total, retries, nil
		}

		s.log.Warn().Int("documents", len(next)).Int("attempt", attempt+1).Msg("retrying failed documents")
		if serr := sleepCtx(ctx, backoff); serr != nil {
			for _, d := range next {
				total.Failed = append(total.Failed, &WriteError{Key: d.PatientID, Transient: true, Err: serr})
			}
			return total, retries, nil
		}
		retries++
		backoff *= 2
		pending = next
	}
}

// -- Readiness --

// WaitReady polls the store until it answers a ping or the configured
// timeout elapses. Each ping attempt is bounded by the poll interval.
func (s *Service) WaitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ReadyTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, s.opts.ReadyInterval)
		err := s.store.Ping(pingCtx)
		pingCancel()
		if err == nil {
			s.log.Info().Int("attempt", attempt).Msg("store is ready")
			return nil
		}
		lastErr = err
		s.log.Debug().Err(err).Int("attempt", attempt).Msg("store not ready yet")

		select {
		case <-ctx.Done():
			return &ConnectivityError{Timeout: s.opts.ReadyTimeout, Err: lastErr}
		case <-time.After(s.opts.ReadyInterval):
		}
	}
}

// VerifyCount polls until the store holds at least VerifyMin documents,
// failing after ReadyTimeout. A VerifyMin of zero skips the check.
func (s *Service) VerifyCount(ctx context.Context) error {
	if s.opts.VerifyMin <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.ReadyTimeout)
	defer cancel()

	var count int64
	for {
		n, err := s.store.Count(ctx)
		if err == nil {
			count = n
			if count >= s.opts.VerifyMin {
				s.log.Info().Int64("count", count).Int64("min", s.opts.VerifyMin).Msg("verification passed")
				return nil
			}
		} else {
			s.log.Debug().Err(err).Msg("count failed during verification")
		}

		select {
		case <-ctx.Done():
			return &VerificationError{Collection: s.opts.Collection, Count: count, Min: s.opts.VerifyMin}
		case <-time.After(s.opts.ReadyInterval):
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
