package identity

import (
	"context"

	"gymkiosk/internal/faceclient"
)

// Comparison is the outcome of matching one probe against one reference
// photo. Distance is nil when the model gave only a boolean verdict or
// the comparison failed; Detail carries the diagnostic in that case.
type Comparison struct {
	Match    bool
	Distance *float64
	Detail   string
}

// Matcher decides whether two face images show the same person.
type Matcher interface {
	Match(ctx context.Context, probePath, refPath string) Comparison
}

// Verifier adapts the face service into the Matcher contract. A failed
// service call degrades to a non-match instead of propagating; when a
// numeric distance is available the threshold decides, overriding the
// service's own verdict.
type Verifier struct {
	client    *faceclient.Client
	threshold float64
}

// NewVerifier wraps the face client with the fixed distance threshold.
func NewVerifier(client *faceclient.Client, threshold float64) *Verifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Verifier{client: client, threshold: threshold}
}

// Match implements Matcher.
func (v *Verifier) Match(ctx context.Context, probePath, refPath string) Comparison {
	res, err := v.client.Verify(ctx, probePath, refPath)
	if err != nil {
		return Comparison{Match: false, Detail: err.Error()}
	}
	if res.Distance != nil {
		return Comparison{
			Match:    *res.Distance <= v.threshold,
			Distance: res.Distance,
			Detail:   res.Detail,
		}
	}
	return Comparison{Match: res.Verified, Detail: res.Detail}
}
