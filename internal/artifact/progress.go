package artifact

// Phase names a stage of DownloadWithProgress.
type Phase string

const (
	PhasePreparing         Phase = "preparing"
	PhaseVerifyingExisting Phase = "verifying_existing"
	PhaseDownloading       Phase = "downloading"
	PhaseFinished          Phase = "finished"
)

// Progress is a snapshot reported to a ProgressFunc. Total is nil when the
// size is unknown.
type Progress struct {
	Phase       Phase   `json:"phase"`
	Transferred uint64  `json:"transferred"`
	Total       *uint64 `json:"total,omitempty"`
}

// Fraction returns Transferred/Total in [0,1], or -1 when Total is unknown.
func (p Progress) Fraction() float64 {
	if p.Total == nil {
		return -1
	}
	if *p.Total == 0 {
		return 1
	}
	f := float64(p.Transferred) / float64(*p.Total)
	if f > 1 {
		f = 1
	}
	return f
}

// ProgressFunc receives progress on the worker goroutine. Implementations
// must not block; forward to a channel or store the latest value.
type ProgressFunc func(Progress)

func (f ProgressFunc) emit(phase Phase, transferred uint64, total *uint64) {
	if f == nil {
		return
	}
	f(Progress{Phase: phase, Transferred: transferred, Total: total})
}

func u64(v uint64) *uint64 { return &v }
