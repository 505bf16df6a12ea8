package incident

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/micguard/micguard/internal/audio"
	"github.com/micguard/micguard/internal/util"
)

const wavBitDepth = 16

// DumpResult describes a written incident file.
type DumpResult struct {
	FilePath  string
	Filename  string
	FileSize  int64
	DumpStart time.Time
	Error     error
}

// writeWAV persists S16LE mono PCM as a WAV file named after the incident
// time, e.g. 2026-08-28_14-32-05.wav.
func writeWAV(outputDir string, pcm []byte, start time.Time) *DumpResult {
	result := &DumpResult{DumpStart: start}

	if len(pcm) < 2 {
		result.Error = fmt.Errorf("no audio buffered")
		return result
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		result.Error = util.WrapError("create dump directory", err)
		return result
	}

	result.Filename = start.Local().Format("2006-01-02_15-04-05") + ".wav"
	result.FilePath = filepath.Join(outputDir, result.Filename)

	f, err := os.Create(result.FilePath)
	if err != nil {
		result.Error = util.WrapError("create dump file", err)
		return result
	}

	enc := wav.NewEncoder(f, audio.SampleRate, wavBitDepth, audio.Channels, 1)

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: audio.Channels, SampleRate: audio.SampleRate},
		Data:           samples,
		SourceBitDepth: wavBitDepth,
	}

	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		_ = f.Close()
		result.Error = util.WrapError("write wav data", err)
		return result
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		result.Error = util.WrapError("finalize wav file", err)
		return result
	}
	if err := f.Close(); err != nil {
		result.Error = util.WrapError("close dump file", err)
		return result
	}

	info, err := os.Stat(result.FilePath)
	if err != nil {
		result.Error = util.WrapError("stat dump file", err)
		return result
	}
	result.FileSize = info.Size()

	return result
}
