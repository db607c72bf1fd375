package resolve

// Selection is the outcome of the quality policy: either a single combined
// stream, or a video/audio pair that must be merged.
type Selection struct {
	Combined *StreamDescriptor
	Video    *StreamDescriptor
	Audio    *StreamDescriptor
}

// Split reports whether the selection needs a merge step.
func (s Selection) Split() bool {
	return s.Combined == nil
}

// OutputExt is the container extension of the final artifact. A merged pair
// keeps mp4 when the video side is mp4, otherwise falls back to mkv since
// ffmpeg can stream-copy mismatched codecs into it.
func (s Selection) OutputExt() string {
	if s.Combined != nil {
		return s.Combined.Container
	}
	if s.Video != nil && s.Video.Container == "mp4" {
		return "mp4"
	}
	return "mkv"
}

// Select applies the quality policy to a descriptor set, deterministically:
// prefer the best combined stream; otherwise pair the best video-only stream
// with the best audio-only stream. maxHeight > 0 caps video resolution; if no
// candidate fits under the cap, the cap is ignored rather than failing.
func Select(streams []StreamDescriptor, maxHeight int) (Selection, error) {
	combined := bestVisual(streams, KindCombined, maxHeight)
	video := bestVisual(streams, KindVideo, maxHeight)
	audio := bestAudio(streams)

	if combined != nil {
		return Selection{Combined: combined}, nil
	}
	if video != nil && audio != nil {
		return Selection{Video: video, Audio: audio}, nil
	}
	// A video-only stream with no audio counterpart is still downloadable.
	if video != nil {
		return Selection{Combined: video}, nil
	}
	return Selection{}, ErrNoStreams
}

// bestVisual picks the highest-resolution stream of the given kind, ties
// broken by higher bitrate, then by first encountered.
func bestVisual(streams []StreamDescriptor, kind StreamKind, maxHeight int) *StreamDescriptor {
	pick := pickVisual(streams, kind, maxHeight)
	if pick == nil && maxHeight > 0 {
		pick = pickVisual(streams, kind, 0)
	}
	return pick
}

func pickVisual(streams []StreamDescriptor, kind StreamKind, maxHeight int) *StreamDescriptor {
	var best *StreamDescriptor
	for i := range streams {
		s := &streams[i]
		if s.Kind != kind {
			continue
		}
		if maxHeight > 0 && s.Height > maxHeight {
			continue
		}
		if best == nil || s.Height > best.Height || (s.Height == best.Height && s.Bitrate > best.Bitrate) {
			best = s
		}
	}
	return best
}

// bestAudio picks the highest-bitrate audio-only stream, first encountered on
// ties.
func bestAudio(streams []StreamDescriptor) *StreamDescriptor {
	var best *StreamDescriptor
	for i := range streams {
		s := &streams[i]
		if s.Kind != KindAudio {
			continue
		}
		if best == nil || s.Bitrate > best.Bitrate {
			best = s
		}
	}
	return best
}
