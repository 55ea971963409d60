// Package audioio reads and writes the audio files handled by the SELD tools.
package audioio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	dspresample "github.com/cwbudde/algo-dsp/dsp/resample"
	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// ReadWAV decodes a WAV file into per-channel samples [channel][sample].
func ReadWAV(path string) ([][]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("invalid wav file: %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, 0, fmt.Errorf("invalid wav buffer: %s", path)
	}
	ch := buf.Format.NumChannels
	frames := len(buf.Data) / ch
	out := make([][]float64, ch)
	for c := range out {
		out[c] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < ch; c++ {
			out[c][i] = float64(buf.Data[i*ch+c])
		}
	}
	return out, buf.Format.SampleRate, nil
}

// ReadMono decodes a WAV, MP3 or OGG Vorbis file, chosen by extension, and
// averages its channels.
func ReadMono(path string) ([]float64, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		chans, sr, err := ReadWAV(path)
		if err != nil {
			return nil, 0, err
		}
		return Downmix(chans), sr, nil
	case ".mp3":
		return readMP3(path)
	case ".ogg":
		return readOgg(path)
	default:
		return nil, 0, fmt.Errorf("unsupported audio format: %s", path)
	}
}

// IsAudioFile reports whether ReadMono can decode path.
func IsAudioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".mp3", ".ogg":
		return true
	}
	return false
}

func readMP3(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	dec, err := gomp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("mp3 %s: %w", path, err)
	}
	// go-mp3 always yields 16-bit little-endian stereo.
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("mp3 %s: %w", path, err)
	}
	frames := len(raw) / 4
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(raw[4*i:]))
		r := int16(binary.LittleEndian.Uint16(raw[4*i+2:]))
		out[i] = 0.5 * (float64(l) + float64(r)) / 32768.0
	}
	return out, dec.SampleRate(), nil
}

func readOgg(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	data, format, err := oggvorbis.ReadAll(f)
	if err != nil {
		return nil, 0, fmt.Errorf("ogg %s: %w", path, err)
	}
	if format.Channels < 1 {
		return nil, 0, fmt.Errorf("ogg %s: no channels", path)
	}
	ch := format.Channels
	frames := len(data) / ch
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < ch; c++ {
			sum += float64(data[i*ch+c])
		}
		out[i] = sum / float64(ch)
	}
	return out, format.SampleRate, nil
}

// Downmix averages channels into one.
func Downmix(chans [][]float64) []float64 {
	if len(chans) == 0 {
		return nil
	}
	if len(chans) == 1 {
		return chans[0]
	}
	out := make([]float64, len(chans[0]))
	for _, ch := range chans {
		for i := range out {
			if i < len(ch) {
				out[i] += ch[i]
			}
		}
	}
	inv := 1 / float64(len(chans))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// ResampleIfNeeded converts in from fromRate to toRate.
func ResampleIfNeeded(in []float64, fromRate int, toRate int) ([]float64, error) {
	if fromRate == toRate {
		return in, nil
	}
	r, err := dspresample.NewForRates(
		float64(fromRate),
		float64(toRate),
		dspresample.WithQuality(dspresample.QualityBest),
	)
	if err != nil {
		return nil, err
	}
	return r.Process(in), nil
}

// WriteWAV writes per-channel samples as an interleaved 16-bit WAV file.
func WriteWAV(path string, chans [][]float64, sampleRate int) error {
	if len(chans) == 0 {
		return fmt.Errorf("no channels to write")
	}
	n := len(chans[0])
	for c, ch := range chans {
		if len(ch) != n {
			return fmt.Errorf("channel %d length %d != %d", c, len(ch), n)
		}
	}
	nch := len(chans)
	data := make([]float32, n*nch)
	for i := 0; i < n; i++ {
		for c := 0; c < nch; c++ {
			data[i*nch+c] = float32(Clamp(chans[c][i], -1, 1))
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := wav.NewEncoder(f, sampleRate, 16, nch, 1)
	defer enc.Close()

	buf := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: nch,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	return enc.Write(buf)
}

// WAVE format tags whose data chunk holds fixed-size frames.
const (
	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatALaw       = 6
	wavFormatMuLaw      = 7
	wavFormatExtensible = 0xFFFE
)

// FrameCount returns the number of sample frames and the sample rate of a
// WAV file from its fmt and data chunk headers. Compressed formats are
// decoded to count them.
func FrameCount(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, 0, fmt.Errorf("invalid wav file: %s", path)
	}
	frameBytes := int(dec.NumChans) * int(dec.BitDepth) / 8
	switch dec.WavAudioFormat {
	case wavFormatPCM, wavFormatIEEEFloat, wavFormatALaw, wavFormatMuLaw, wavFormatExtensible:
	default:
		// Compressed: the data size says nothing about the frame count.
		frameBytes = -1
	}
	// One-byte frames cannot be told apart from the odd-size pad byte.
	if frameBytes == 1 || frameBytes == -1 {
		chans, sr, err := ReadWAV(path)
		if err != nil {
			return 0, 0, err
		}
		return len(chans[0]), sr, nil
	}
	if frameBytes <= 0 {
		return 0, 0, fmt.Errorf("invalid wav format in %s: %d channels, %d bits", path, dec.NumChans, dec.BitDepth)
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", path, err)
	}
	return dec.PCMSize / frameBytes, int(dec.SampleRate), nil
}
