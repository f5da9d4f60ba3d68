package metadata

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"soniqfm/logger"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"
	mp3 "github.com/hajimehoshi/go-mp3"
)

// Result is a sparse set of tags read from an audio file. A nil field means
// the extractor could not confidently determine that value.
type Result struct {
	Title       *string
	Artist      *string
	Album       *string
	TrackNumber *int
	DurationMS  *int64
}

// Extract reads tags and duration from the audio file at path. It never
// fails the caller: unknown or corrupt formats yield an empty Result.
func Extract(path string) (result Result) {
	// Tag parsers can misbehave on truncated or hostile input; a failed
	// extraction must degrade to "no metadata", not take the pipeline down.
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("metadata extraction panicked",
				logger.String("path", path),
				logger.Any("panic", r))
			result = Result{}
		}
	}()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return extractMP3(path)
	case ".flac":
		return extractFLAC(path)
	case ".m4a", ".mp4", ".ogg", ".oga":
		return extractContainer(path)
	default:
		logger.Debug("no tag reader for file extension", logger.String("path", path))
		return Result{}
	}
}

// extractContainer reads MP4 atom and Ogg Vorbis comment tags. Neither
// format carries an explicit duration tag; the pipeline's probe fallback
// covers it.
func extractContainer(path string) Result {
	var res Result

	f, err := os.Open(path)
	if err != nil {
		return res
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		logger.Debug("failed to parse container tags", logger.String("path", path), logger.ErrorField(err))
		return res
	}

	res.Title = nonEmpty(m.Title())
	res.Artist = nonEmpty(m.Artist())
	res.Album = nonEmpty(m.Album())
	if n, _ := m.Track(); n > 0 {
		res.TrackNumber = &n
	}
	return res
}

// extractMP3 reads ID3v2 tags. The common text frames are tried first;
// duration comes from the TLEN frame when present and is otherwise computed
// by decoding the stream.
func extractMP3(path string) Result {
	var res Result

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err == nil {
		res.Title = nonEmpty(tag.Title())
		res.Artist = nonEmpty(tag.Artist())
		res.Album = nonEmpty(tag.Album())

		trck := tag.GetTextFrame(tag.CommonID("Track number/Position in set")).Text
		if n, ok := ParseTrackNumber(trck); ok {
			res.TrackNumber = &n
		}

		if tlen := strings.TrimSpace(tag.GetTextFrame("TLEN").Text); tlen != "" {
			if ms, err := strconv.ParseInt(tlen, 10, 64); err == nil && ms > 0 {
				res.DurationMS = &ms
			}
		}
		tag.Close()
	} else {
		logger.Debug("failed to parse ID3 tags", logger.String("path", path), logger.ErrorField(err))
	}

	if res.DurationMS == nil {
		if ms, ok := mp3DurationMS(path); ok {
			res.DurationMS = &ms
		}
	}

	return res
}

// mp3DurationMS decodes the MPEG stream headers to compute the playable
// length. The decoder emits 16-bit stereo PCM, so 4 bytes per sample frame.
func mp3DurationMS(path string) (int64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		logger.Debug("failed to decode mp3 for duration", logger.String("path", path), logger.ErrorField(err))
		return 0, false
	}
	if dec.SampleRate() <= 0 || dec.Length() <= 0 {
		return 0, false
	}

	seconds := float64(dec.Length()) / 4.0 / float64(dec.SampleRate())
	if seconds <= 0 {
		return 0, false
	}
	return CeilMillis(seconds), true
}

// extractFLAC reads Vorbis comments and derives the duration from the
// STREAMINFO block (total samples over sample rate).
func extractFLAC(path string) Result {
	var res Result

	f, err := flac.ParseFile(path)
	if err != nil {
		logger.Debug("failed to parse FLAC file", logger.String("path", path), logger.ErrorField(err))
		return res
	}

	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment {
			continue
		}
		cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
		if err != nil {
			continue
		}
		res.Title = firstComment(cmt, flacvorbis.FIELD_TITLE)
		res.Artist = firstComment(cmt, flacvorbis.FIELD_ARTIST)
		res.Album = firstComment(cmt, flacvorbis.FIELD_ALBUM)
		if tn := firstComment(cmt, flacvorbis.FIELD_TRACKNUMBER); tn != nil {
			if n, ok := ParseTrackNumber(*tn); ok {
				res.TrackNumber = &n
			}
		}
		break
	}

	if info, err := f.GetStreamInfo(); err == nil && info.SampleRate > 0 && info.SampleCount > 0 {
		seconds := float64(info.SampleCount) / float64(info.SampleRate)
		ms := CeilMillis(seconds)
		res.DurationMS = &ms
	}

	return res
}

func firstComment(cmt *flacvorbis.MetaDataBlockVorbisComment, field string) *string {
	vals, err := cmt.Get(field)
	if err != nil || len(vals) == 0 {
		return nil
	}
	return nonEmpty(vals[0])
}

// ParseTrackNumber parses a tag track number, accepting the "N/Total" form
// by taking the numerator only. Unparsable values are dropped rather than
// stored as zero.
func ParseTrackNumber(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		s = s[:idx]
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// CeilMillis converts a fractional-seconds duration to milliseconds,
// rounding up so playable length is never under-reported.
func CeilMillis(seconds float64) int64 {
	return int64(math.Ceil(seconds * 1000))
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
