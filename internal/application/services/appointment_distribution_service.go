package services

import (
	"math/rand"
	"sort"
	"time"

	"github.com/agendaflow/backend/internal/domain/entities"
	"github.com/agendaflow/backend/pkg/config"
)

// SortMethod selects the sampling strategy used when the candidate set is
// larger than the requested limit.
type SortMethod string

const (
	SortSequential                      SortMethod = "sequential"
	SortDefault                         SortMethod = "default"
	SortFirstEachHourDay                SortMethod = "firstEachHourDay"
	SortFirstEachAnyPeriodDay           SortMethod = "firstEachAnyPeriodDay"
	SortFirstEachPeriodDay              SortMethod = "firstEachPeriodDay"
	SortCombineDatePeriodByOrganization SortMethod = "combineDatePeriodByOrganization"
)

// DistributionOptions are the per-call constraints of one distribution.
type DistributionOptions struct {
	// Limit caps the selection. Zero falls back to the service's configured
	// default; with no default either, the result is unbounded.
	Limit       int
	PeriodOfDay entities.PeriodOfDay
	SortMethod  SortMethod
	Randomize   bool

	// Rand drives the random-sample strategy; defaults to a time-seeded
	// source when nil.
	Rand *rand.Rand
}

// DistributionMetadata is non-nil only when the candidate set was already
// within the limit and no sampling ran.
type DistributionMetadata struct {
	NumberOfSchedulesLessThanLimit bool `json:"numberOfSchedulesLessThanLimit"`
}

// AppointmentDistributionService samples a bounded, fairly-distributed subset
// of raw appointment slots. Naive chronological truncation would let one
// doctor or organization flood the first page; the bucketed and round-robin
// strategies keep visible diversity across days, periods, and organizations.
type AppointmentDistributionService struct {
	leadTime      time.Duration
	nightDistinct bool
	excludeDay    func(time.Time) bool
	defaultLimit  int
	now           func() time.Time
}

// NewAppointmentDistributionService creates a new distribution service.
// leadTime drops slots starting sooner than now+leadTime; nightDistinct
// controls whether night is its own period bucket or folds into afternoon;
// excludeDay is an optional tenant day-of-week exclusion predicate.
func NewAppointmentDistributionService(leadTime time.Duration, nightDistinct bool, excludeDay func(time.Time) bool) *AppointmentDistributionService {
	return &AppointmentDistributionService{
		leadTime:      leadTime,
		nightDistinct: nightDistinct,
		excludeDay:    excludeDay,
		now:           time.Now,
	}
}

// NewAppointmentDistributionServiceFromConfig builds the service from the
// flow engine settings, with no day exclusions.
func NewAppointmentDistributionServiceFromConfig(cfg config.FlowEngineConfig) *AppointmentDistributionService {
	svc := NewAppointmentDistributionService(
		time.Duration(cfg.ScheduleLeadTimeMinutes)*time.Minute,
		cfg.NightAsDistinctPeriod,
		nil,
	)
	svc.defaultLimit = cfg.DefaultScheduleLimit
	return svc
}

// Distribute filters, deduplicates, and samples the candidate slots down to
// at most opts.Limit entries, sorted ascending by time.
func (s *AppointmentDistributionService) Distribute(slots []entities.AppointmentSlot, opts DistributionOptions) ([]entities.AppointmentSlot, *DistributionMetadata) {
	if opts.Limit <= 0 {
		opts.Limit = s.defaultLimit
	}
	candidates := s.prepare(slots, opts.PeriodOfDay)

	if opts.Limit <= 0 || len(candidates) <= opts.Limit {
		return candidates, &DistributionMetadata{NumberOfSchedulesLessThanLimit: true}
	}

	switch opts.SortMethod {
	case SortFirstEachHourDay:
		return s.firstEachHourDay(candidates, opts.Limit), nil
	case SortFirstEachAnyPeriodDay:
		return s.firstEachAnyPeriodDay(candidates, opts.Limit), nil
	case SortFirstEachPeriodDay:
		return s.firstEachPeriodDay(candidates, opts.Limit), nil
	case SortCombineDatePeriodByOrganization:
		return s.combineByOrganization(candidates, opts.Limit), nil
	case SortSequential:
		return candidates[:opts.Limit], nil
	default:
		if !opts.Randomize {
			return candidates[:opts.Limit], nil
		}
		return s.randomSample(candidates, opts), nil
	}
}

// PeriodFor buckets a slot time, honoring the tenant's night rule.
func (s *AppointmentDistributionService) PeriodFor(t time.Time) entities.PeriodOfDay {
	h := t.Hour()
	switch {
	case h >= 6 && h < 12:
		return entities.PeriodMorning
	case h >= 12 && h < 18:
		return entities.PeriodAfternoon
	default:
		if s.nightDistinct {
			return entities.PeriodNight
		}
		return entities.PeriodAfternoon
	}
}

// prepare runs the shared pre-sampling pipeline: period window, day
// exclusions, minimum lead time, timestamp dedupe (last write wins), and the
// ascending chronological sort.
func (s *AppointmentDistributionService) prepare(slots []entities.AppointmentSlot, period entities.PeriodOfDay) []entities.AppointmentSlot {
	wanted := period
	if wanted == entities.PeriodNight && !s.nightDistinct {
		wanted = entities.PeriodAfternoon
	}
	earliest := s.now().Add(s.leadTime)

	byTime := map[int64]entities.AppointmentSlot{}
	var order []int64
	for _, slot := range slots {
		if wanted != "" && wanted != entities.PeriodAny && s.PeriodFor(slot.Date) != wanted {
			continue
		}
		if s.excludeDay != nil && s.excludeDay(slot.Date) {
			continue
		}
		if slot.Date.Before(earliest) {
			continue
		}
		key := slot.Date.UnixNano()
		if _, ok := byTime[key]; !ok {
			order = append(order, key)
		}
		byTime[key] = slot
	}

	out := make([]entities.AppointmentSlot, 0, len(order))
	for _, key := range order {
		out = append(out, byTime[key])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (s *AppointmentDistributionService) randomSample(slots []entities.AppointmentSlot, opts DistributionOptions) []entities.AppointmentSlot {
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewSource(s.now().UnixNano()))
	}
	picked := r.Perm(len(slots))[:opts.Limit]
	sort.Ints(picked)

	out := make([]entities.AppointmentSlot, 0, opts.Limit)
	for _, i := range picked {
		out = append(out, slots[i])
	}
	return out
}

// firstEachHourDay keeps the first slot of each distinct (date, hour) pair.
// The cap of one per pair is intentional and independent of the adaptive
// per-period cap used elsewhere.
func (s *AppointmentDistributionService) firstEachHourDay(slots []entities.AppointmentSlot, limit int) []entities.AppointmentSlot {
	seen := map[string]struct{}{}
	var out []entities.AppointmentSlot
	for _, slot := range slots {
		if len(out) == limit {
			break
		}
		key := slot.Date.Format("2006-01-02T15")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, slot)
	}
	return out
}

// firstEachAnyPeriodDay keeps up to two slots per distinct date, with no
// period split. The fixed cap of two is intentional.
func (s *AppointmentDistributionService) firstEachAnyPeriodDay(slots []entities.AppointmentSlot, limit int) []entities.AppointmentSlot {
	perDay := map[string]int{}
	var out []entities.AppointmentSlot
	for _, slot := range slots {
		if len(out) == limit {
			break
		}
		key := slot.Date.Format("2006-01-02")
		if perDay[key] >= 2 {
			continue
		}
		perDay[key]++
		out = append(out, slot)
	}
	return out
}

func (s *AppointmentDistributionService) firstEachPeriodDay(slots []entities.AppointmentSlot, limit int) []entities.AppointmentSlot {
	return s.bucketByDatePeriod(slots, limit, s.perBucketCap(slots))
}

// combineByOrganization round-robins candidates across organization queues
// before bucketing by (date, period), so no single organization dominates the
// early slots. The final selection is re-sorted chronologically.
func (s *AppointmentDistributionService) combineByOrganization(slots []entities.AppointmentSlot, limit int) []entities.AppointmentSlot {
	var orgOrder []string
	queues := map[string][]entities.AppointmentSlot{}
	for _, slot := range slots {
		org := slot.OrganizationUnitID
		if _, ok := queues[org]; !ok {
			orgOrder = append(orgOrder, org)
		}
		queues[org] = append(queues[org], slot)
	}

	interleaved := make([]entities.AppointmentSlot, 0, len(slots))
	for len(interleaved) < len(slots) {
		for _, org := range orgOrder {
			if len(queues[org]) == 0 {
				continue
			}
			interleaved = append(interleaved, queues[org][0])
			queues[org] = queues[org][1:]
		}
	}

	out := s.bucketByDatePeriod(interleaved, limit, s.perBucketCap(slots))
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// perBucketCap is 3 when the candidate set spans at most 5 distinct dates,
// else 2: sparse date ranges get deeper per-day sampling.
func (s *AppointmentDistributionService) perBucketCap(slots []entities.AppointmentSlot) int {
	dates := map[string]struct{}{}
	for _, slot := range slots {
		dates[slot.Date.Format("2006-01-02")] = struct{}{}
	}
	if len(dates) <= 5 {
		return 3
	}
	return 2
}

func (s *AppointmentDistributionService) bucketByDatePeriod(slots []entities.AppointmentSlot, limit, perBucket int) []entities.AppointmentSlot {
	buckets := map[string]int{}
	var out []entities.AppointmentSlot
	for _, slot := range slots {
		if len(out) == limit {
			break
		}
		key := slot.Date.Format("2006-01-02") + "/" + string(s.PeriodFor(slot.Date))
		if buckets[key] >= perBucket {
			continue
		}
		buckets[key]++
		out = append(out, slot)
	}
	return out
}
