package types

// TimedSegment is one cleaned caption cue. Segments of a transcript are ordered
// by Start and never overlap.
type TimedSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Duration returns End - Start in seconds.
func (s TimedSegment) Duration() float64 {
	return s.End - s.Start
}

// CandidateTopic is a discovery-phase result with an unconstrained span.
type CandidateTopic struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	KeyQuote    string  `json:"key_quote,omitempty"`
	Score       float64 `json:"score,omitempty"`
	ApproxStart float64 `json:"approx_start"`
	ApproxEnd   float64 `json:"approx_end"`
}

// Duration returns the discovered span in seconds.
func (t CandidateTopic) Duration() float64 {
	return t.ApproxEnd - t.ApproxStart
}

// RefinedSegment is a topic whose span fits the accepted duration window.
type RefinedSegment struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	KeyQuote    string  `json:"key_quote,omitempty"`
	Score       float64 `json:"score,omitempty"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
}

// Duration returns End - Start in seconds.
func (s RefinedSegment) Duration() float64 {
	return s.End - s.Start
}

// FinalSegment is the terminal entity handed to callers.
type FinalSegment struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	VerbatimText string  `json:"verbatim_text"`
	KeyQuote     string  `json:"key_quote"`
}

// Duration returns End - Start in seconds.
func (s FinalSegment) Duration() float64 {
	return s.End - s.Start
}
