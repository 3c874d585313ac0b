// Package dispatch classifies completed artifacts by their leading bytes and
// hands them to the animation or still-image render sink, keeping the host's
// display flags consistent with what is on the panel.
package dispatch

import (
	"bytes"

	"github.com/pithecene-io/pixelport/types"
)

// SignatureLen is the number of leading bytes read to classify an artifact.
const SignatureLen = 6

var (
	gif87a = []byte("GIF87a")
	gif89a = []byte("GIF89a")
)

// Classify returns the content kind for an artifact prefix. Anything that is
// not a GIF signature is a still image.
func Classify(prefix []byte) types.ContentKind {
	if IsAnimation(prefix) {
		return types.ContentAnimation
	}
	return types.ContentStillImage
}

// IsAnimation reports whether prefix starts with a GIF87a or GIF89a signature.
func IsAnimation(prefix []byte) bool {
	if len(prefix) < SignatureLen {
		return false
	}
	sig := prefix[:SignatureLen]
	return bytes.Equal(sig, gif87a) || bytes.Equal(sig, gif89a)
}
