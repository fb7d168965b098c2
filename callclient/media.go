package callclient

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// ErrTrackStopped is returned when writing to a stopped track.
var ErrTrackStopped = errors.New("track stopped")

// TrackKind is the media type of a local track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// MediaSource opens the local camera and microphone. Errors should wrap
// ErrMediaPermissionDenied, ErrNoDevice or ErrDeviceBusy.
type MediaSource interface {
	Acquire(ctx context.Context) ([]*LocalTrack, error)
}

// LocalTrack is a capture track the application feeds with encoded
// samples. A disabled track drops samples instead of leaving the peer
// connection, so muting never renegotiates.
type LocalTrack struct {
	kind    TrackKind
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool
}

// NewLocalTrack creates an enabled Opus audio or VP8 video track.
func NewLocalTrack(kind TrackKind, streamID string) (*LocalTrack, error) {
	var capability webrtc.RTPCodecCapability
	switch kind {
	case TrackAudio:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	case TrackVideo:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	default:
		return nil, fmt.Errorf("unknown track kind %q", kind)
	}

	track, err := webrtc.NewTrackLocalStaticSample(capability, string(kind), streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", kind, err)
	}

	t := &LocalTrack{kind: kind, track: track}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) Kind() TrackKind { return t.kind }

// Track is the pion track to attach to a peer connection.
func (t *LocalTrack) Track() webrtc.TrackLocal { return t.track }

func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

func (t *LocalTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *LocalTrack) Stopped() bool { return t.stopped.Load() }

// Stop ends the capture. Further writes fail.
func (t *LocalTrack) Stop() { t.stopped.Store(true) }

// WriteSample forwards one encoded frame to the peer. Samples written
// while the track is disabled are discarded.
func (t *LocalTrack) WriteSample(sample media.Sample) error {
	if t.stopped.Load() {
		return ErrTrackStopped
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.track.WriteSample(sample)
}

// StaticSource hands out one audio and one video track per Acquire. It
// suits headless clients that produce encoded samples themselves.
type StaticSource struct {
	StreamID string
}

func (s StaticSource) Acquire(ctx context.Context) ([]*LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := s.StreamID
	if streamID == "" {
		streamID = "agroconsult"
	}

	audio, err := NewLocalTrack(TrackAudio, streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	video, err := NewLocalTrack(TrackVideo, streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	return []*LocalTrack{audio, video}, nil
}
