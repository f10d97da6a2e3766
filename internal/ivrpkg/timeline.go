package ivrpkg

import (
	"fmt"

	"github.com/flowpbx/flowpbx/internal/frame"
)

// Track is one of up to four parallel audio tracks produced by compiling a
// prompt timeline (§4.8).
type Track struct {
	Frames     []frame.PCM
	SoundLevel int // percent, default 100
}

// Timeline is a compiled <prompt>, ready for the playback tick to advance.
type Timeline struct {
	Tracks []Track
}

const maxParallelTracks = 4

// fetchFunc resolves a (possibly relative) media loc to decoded frames; the
// package wires this to promptcache.Cache.Get plus xml:base resolution.
type fetchFunc func(loc string) ([]frame.PCM, error)

// compileTimeline implements the §4.8 prompt compiler: top-level media and
// seq, par blocks of media and seq, up to four parallel tracks, endsync
// padding. <variable> elements produce no audio, and a <dtmf> inside a seq
// fails the prompt with ErrDTMFUnsupported.
func compileTimeline(fetch fetchFunc, p *promptElem) (*Timeline, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: dialog has no prompt", ErrBadPrompt)
	}
	if containsDTMFSynthesis(p) {
		return nil, ErrDTMFUnsupported
	}

	var tracks []Track

	baseFrames, baseLevel, err := compileSeqLike(fetch, p.Media, p.Seq)
	if err != nil {
		return nil, err
	}
	if len(baseFrames) > 0 {
		tracks = append(tracks, Track{Frames: baseFrames, SoundLevel: baseLevel})
	}

	for _, par := range p.Par {
		var parTracks []Track
		for _, m := range par.Media {
			f, err := fetchMediaFrames(fetch, m)
			if err != nil {
				return nil, err
			}
			parTracks = append(parTracks, Track{Frames: f, SoundLevel: levelOrDefault(m.SoundLevel)})
		}
		for _, s := range par.Seq {
			f, lvl, err := compileSeqLike(fetch, s.Media, nil)
			if err != nil {
				return nil, err
			}
			if len(s.DTMF) > 0 {
				return nil, ErrDTMFUnsupported
			}
			parTracks = append(parTracks, Track{Frames: f, SoundLevel: lvl})
		}
		parTracks = applyEndSync(parTracks, par.EndSync)
		tracks = append(tracks, parTracks...)
	}

	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: empty prompt timeline", ErrBadPrompt)
	}
	if len(tracks) > maxParallelTracks {
		tracks = tracks[:maxParallelTracks]
	}
	return &Timeline{Tracks: tracks}, nil
}

func compileSeqLike(fetch fetchFunc, medias []mediaElem, seqs []seqElem) ([]frame.PCM, int, error) {
	var frames []frame.PCM
	level := 100
	for _, m := range medias {
		f, err := fetchMediaFrames(fetch, m)
		if err != nil {
			return nil, 0, err
		}
		frames = append(frames, f...)
		if m.SoundLevel != 0 {
			level = m.SoundLevel
		}
	}
	for _, s := range seqs {
		if len(s.DTMF) > 0 {
			return nil, 0, ErrDTMFUnsupported
		}
		for _, m := range s.Media {
			f, err := fetchMediaFrames(fetch, m)
			if err != nil {
				return nil, 0, err
			}
			frames = append(frames, f...)
			if m.SoundLevel != 0 {
				level = m.SoundLevel
			}
		}
	}
	return frames, level, nil
}

// fetchMediaFrames resolves one <media> clip through the prompt cache and
// applies clipBegin/clipEnd, expressed in milliseconds, at 20ms granularity.
func fetchMediaFrames(fetch fetchFunc, m mediaElem) ([]frame.PCM, error) {
	frames, err := fetch(m.Loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPromptFetch, m.Loc, err)
	}
	if m.ClipBegin <= 0 && m.ClipEnd <= 0 {
		return frames, nil
	}
	startIdx := m.ClipBegin / 20
	endIdx := len(frames)
	if m.ClipEnd > 0 {
		endIdx = m.ClipEnd / 20
	}
	if startIdx < 0 {
		startIdx = 0
	}
	if endIdx > len(frames) {
		endIdx = len(frames)
	}
	if startIdx >= endIdx {
		return nil, nil
	}
	return frames[startIdx:endIdx], nil
}

// applyEndSync pads (endsync="last") or truncates (endsync="first", the
// default) every track in a <par> group to the same length.
func applyEndSync(tracks []Track, mode string) []Track {
	if len(tracks) == 0 {
		return tracks
	}
	target := len(tracks[0].Frames)
	for _, t := range tracks[1:] {
		if mode == "last" {
			if len(t.Frames) > target {
				target = len(t.Frames)
			}
		} else if len(t.Frames) < target {
			target = len(t.Frames)
		}
	}
	out := make([]Track, len(tracks))
	for i, t := range tracks {
		f := t.Frames
		if len(f) > target {
			f = f[:target]
		}
		if len(f) < target {
			padded := make([]frame.PCM, target)
			copy(padded, f)
			f = padded
		}
		out[i] = Track{Frames: f, SoundLevel: t.SoundLevel}
	}
	return out
}

func levelOrDefault(v int) int {
	if v == 0 {
		return 100
	}
	return v
}
