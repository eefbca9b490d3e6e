package nowplaying

// Outcome classifies a resolution.
type Outcome int

const (
	// OutcomeUnknown is the zero value and is never returned by the resolver.
	OutcomeUnknown Outcome = iota
	// OutcomePlaying: a track is loaded on the player, whether or not it is
	// paused.
	OutcomePlaying
	// OutcomeLastPlayed: nothing is loaded, the most recent play is returned.
	OutcomeLastPlayed
	// OutcomeNothing: nothing is loaded and there is no usable history.
	OutcomeNothing
	// OutcomeRateLimited: upstream returned 429.
	OutcomeRateLimited
	// OutcomeUnavailable: upstream returned another non-2xx status.
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomePlaying:
		return "playing"
	case OutcomeLastPlayed:
		return "last-played"
	case OutcomeNothing:
		return "nothing"
	case OutcomeRateLimited:
		return "rate-limited"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Result is the answer to "what is playing now". Exactly one outcome is set;
// use the accessors to read the data that accompanies it.
type Result struct {
	outcome         Outcome
	track           Track
	playing         bool
	retryAfter      int
	status          int
	reauthenticated bool
}

func NewPlaying(track Track, playing bool) Result {
	track.IsPlaying = playing
	return Result{outcome: OutcomePlaying, track: track, playing: playing}
}

func NewLastPlayed(track Track) Result {
	track.IsPlaying = false
	track.Progress = nil
	return Result{outcome: OutcomeLastPlayed, track: track}
}

func NewNothing() Result {
	return Result{outcome: OutcomeNothing}
}

// NewRateLimited records a 429 and the number of seconds to wait before
// asking again.
func NewRateLimited(retryAfter int) Result {
	return Result{outcome: OutcomeRateLimited, retryAfter: retryAfter}
}

// NewUnavailable records a non-2xx upstream status.
func NewUnavailable(status int) Result {
	return Result{outcome: OutcomeUnavailable, status: status}
}

func (r Result) Outcome() Outcome {
	return r.outcome
}

// Track returns the resolved track, if there is one.
func (r Result) Track() (Track, bool) {
	if r.outcome != OutcomePlaying && r.outcome != OutcomeLastPlayed {
		return Track{}, false
	}
	return r.track, true
}

// RateLimited returns the retry-after hint in seconds when upstream refused
// the request with 429.
func (r Result) RateLimited() (int, bool) {
	return r.retryAfter, r.outcome == OutcomeRateLimited
}

// Unavailable returns the upstream status when the request failed with a
// status other than 429.
func (r Result) Unavailable() (int, bool) {
	return r.status, r.outcome == OutcomeUnavailable
}

// Reauthenticated reports whether the access token was re-minted after
// upstream rejected it.
func (r Result) Reauthenticated() bool {
	return r.reauthenticated
}

func (r Result) withReauthentication() Result {
	r.reauthenticated = true
	return r
}

// Payload is the JSON body returned for a successful resolution.
type Payload struct {
	Track        *Track `json:"track"`
	IsPlaying    bool   `json:"isPlaying"`
	IsLastPlayed bool   `json:"isLastPlayed,omitempty"`
}

// Payload renders the result. Failure outcomes render as nothing playing.
func (r Result) Payload() Payload {
	track, ok := r.Track()
	if !ok {
		return Payload{}
	}

	return Payload{
		Track:        &track,
		IsPlaying:    r.playing,
		IsLastPlayed: r.outcome == OutcomeLastPlayed,
	}
}
