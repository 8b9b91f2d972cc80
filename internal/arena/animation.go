package arena

import "github.com/google/uuid"

// Animation is an immutable media item. FPSNum/FPSDenom keep the frame
// rate as a rational to avoid float drift. Description may be backfilled
// later but is never the empty string.
type Animation struct {
	ID             uuid.UUID `db:"id"`
	FileIdentifier string    `db:"file_identifier"`
	Width          int       `db:"width"`
	Height         int       `db:"height"`
	MimeType       string    `db:"mime_type"`
	Frames         int       `db:"frames"`
	FPSNum         int       `db:"fps_num"`
	FPSDenom       int       `db:"fps_denom"`
	ContentHash    string    `db:"content_hash"`
	Description    *string   `db:"description"`
}

// DurationSecs derives the playback length from the frame count and rate.
func (a *Animation) DurationSecs() float64 {
	if a.FPSNum == 0 {
		return 0
	}
	return float64(a.Frames) * float64(a.FPSDenom) / float64(a.FPSNum)
}

// AnimationParams are the normalized attributes the media-ingestion layer
// supplies for every submission. The engine never parses raw media.
type AnimationParams struct {
	FileIdentifier string `json:"file_identifier"`
	Filename       string `json:"filename,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	MimeType       string `json:"mime_type"`
	Frames         int    `json:"frames"`
	FPSNum         int    `json:"fps_num"`
	FPSDenom       int    `json:"fps_denom"`
	ContentHash    string `json:"content_hash"`
}

// Fingerprint is the similarity key the duplicate resolver matches on:
// an exact content hash plus the shape signals that flag near-duplicates.
type Fingerprint struct {
	Width    int
	Height   int
	Frames   int
	FPSNum   int
	FPSDenom int
}

func (p AnimationParams) Fingerprint() Fingerprint {
	num, denom := reduceRatio(p.FPSNum, p.FPSDenom)
	return Fingerprint{
		Width:    p.Width,
		Height:   p.Height,
		Frames:   p.Frames,
		FPSNum:   num,
		FPSDenom: denom,
	}
}

func reduceRatio(num, denom int) (int, int) {
	if num == 0 || denom == 0 {
		return num, denom
	}
	g := gcd(num, denom)
	return num / g, denom / g
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}
