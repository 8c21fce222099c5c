// Package filetransfer implements the file transfer engine: per-chunk hash
// verification with NACK on mismatch, whole-file hash verification and
// commit, and a unique destination path on name collision.
//
// Grounded on internal/transport.TCPReceiver: AssembleFile's sorted merge
// survives (here sorted by chunk index), generalized from net.Conn framing
// to router-dispatched models.Message values. Received chunks are held in
// memory until assembly; they are not written to per-chunk temp files.
// internal/erasure.ErasureCoder is
// wired in unchanged for the optional forward-error-correction path.
package filetransfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/deb2000-sudo/connrelay/internal/erasure"
	"github.com/deb2000-sudo/connrelay/pkg/models"
	"github.com/deb2000-sudo/connrelay/pkg/utils"
)

// Egress is the narrow outgoing interface the engine needs to emit
// ack/nack messages back to the sender.
type Egress interface {
	Submit(env *models.OutgoingEnvelope)
}

// chunkRecord is one received chunk pending assembly.
type chunkRecord struct {
	index uint32
	data  []byte
}

// transfer tracks one in-flight file transfer.
type transfer struct {
	mu          sync.Mutex
	id          string
	meta        models.FileMetadata
	totalChunks uint32
	chunks      map[uint32]chunkRecord
	state       models.TransferState
	sourceID    uint32

	// shards buffers in-flight erasure-coded shards per chunk index, keyed
	// by ShardIndex, until enough are present to reconstruct the chunk.
	shards map[uint32][][]byte
}

// Engine manages concurrent file transfers, holding received chunks in
// memory and assembling completed transfers into OutputDir. TempDir is
// created by New but no chunk data is written to it.
type Engine struct {
	OutputDir string
	TempDir   string
	Erasure   *erasure.ErasureCoder // nil disables erasure reconstruction
	Egress    Egress
	Logger    *slog.Logger

	mu        sync.Mutex
	transfers map[string]*transfer
}

// New constructs an Engine, creating OutputDir and TempDir if needed.
func New(outputDir, tempDir string, coder *erasure.ErasureCoder, egress Egress, logger *slog.Logger) (*Engine, error) {
	if outputDir == "" {
		return nil, fmt.Errorf("filetransfer: OutputDir must not be empty")
	}
	if tempDir == "" {
		tempDir = filepath.Join(outputDir, "temp")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, err
	}
	return &Engine{
		OutputDir: outputDir,
		TempDir:   tempDir,
		Erasure:   coder,
		Egress:    egress,
		Logger:    logger,
		transfers: make(map[string]*transfer),
	}, nil
}

func (e *Engine) transferFor(msg *models.Message) *transfer {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transfers[msg.TransferID]
	if !ok {
		t = &transfer{
			id:          msg.TransferID,
			meta:        models.FileMetadata{Name: msg.FileName, Size: msg.FileSize, Hash: msg.FileHash},
			totalChunks: msg.TotalChunks,
			chunks:      make(map[uint32]chunkRecord),
			state:       models.TransferNew,
			sourceID:    msg.SourceID,
			shards:      make(map[uint32][][]byte),
		}
		e.transfers[msg.TransferID] = t
	}
	return t
}

// HandleChunk implements router.FileEngine for FileChunkClientToServer
// messages.
func (e *Engine) HandleChunk(ctx context.Context, session *models.Session, msg *models.Message) error {
	t := e.transferFor(msg)

	t.mu.Lock()
	t.state = models.TransferReceiving
	t.mu.Unlock()

	data, ok, err := e.resolveChunkData(t, msg)
	if err != nil {
		e.Logger.Warn("filetransfer: shard reconstruction failed", "transfer", msg.TransferID, "chunk", msg.ChunkIndex, "error", err)
		e.sendNack(msg)
		return nil
	}
	if !ok {
		// Waiting on more shards for this chunk; nothing to ack yet.
		return nil
	}

	gotHash := utils.HashBytesSHA256(data)
	if msg.ChunkHash != "" && gotHash != msg.ChunkHash {
		e.Logger.Warn("filetransfer: chunk hash mismatch", "transfer", msg.TransferID, "chunk", msg.ChunkIndex)
		e.sendNack(msg)
		return nil
	}

	t.mu.Lock()
	t.chunks[msg.ChunkIndex] = chunkRecord{index: msg.ChunkIndex, data: data}
	received := len(t.chunks)
	total := int(t.totalChunks)
	t.mu.Unlock()

	e.sendAck(msg)

	if total > 0 && received >= total {
		return e.complete(t)
	}
	return nil
}

// resolveChunkData returns the chunk's payload bytes. A plain message (no
// shard fields set, or no erasure coder configured) returns msg.Bytes
// directly. An erasure-coded shard is buffered against its chunk index
// until DataShards are present, then reconstructed via e.Erasure.Decode; ok
// is false while still waiting on more shards.
func (e *Engine) resolveChunkData(t *transfer, msg *models.Message) (data []byte, ok bool, err error) {
	if e.Erasure == nil || msg.TotalShards == 0 {
		return msg.Bytes, true, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	buf, exists := t.shards[msg.ChunkIndex]
	if !exists {
		buf = make([][]byte, msg.TotalShards)
		t.shards[msg.ChunkIndex] = buf
	}
	buf[msg.ShardIndex] = msg.Bytes

	present := 0
	for _, s := range buf {
		if s != nil {
			present++
		}
	}
	if present < int(msg.DataShards) {
		return nil, false, nil
	}

	reconstructed, err := e.Erasure.Decode(buf)
	if err != nil {
		return nil, false, fmt.Errorf("filetransfer: decode shards for chunk %d: %w", msg.ChunkIndex, err)
	}
	delete(t.shards, msg.ChunkIndex)
	return reconstructed, true, nil
}

func (e *Engine) sendAck(msg *models.Message) {
	if e.Egress == nil {
		return
	}
	e.Egress.Submit(models.NewEnvelope(models.Message{
		Kind:       models.InfoAck,
		Priority:   msg.Priority,
		SeqNum:     msg.SeqNum,
		SourceID:   msg.TargetID,
		TargetID:   msg.SourceID,
		TransferID: msg.TransferID,
		ChunkIndex: msg.ChunkIndex,
	}))
}

func (e *Engine) sendNack(msg *models.Message) {
	if e.Egress == nil {
		return
	}
	e.Egress.Submit(models.NewEnvelope(models.Message{
		Kind:       models.InfoNack,
		Priority:   msg.Priority,
		SeqNum:     msg.SeqNum,
		SourceID:   msg.TargetID,
		TargetID:   msg.SourceID,
		TransferID: msg.TransferID,
		ChunkIndex: msg.ChunkIndex,
	}))
}

// complete assembles the transfer's chunks in chunk-index order, verifies the
// whole-file hash, and writes the result to a collision-free path under
// OutputDir.
func (e *Engine) complete(t *transfer) error {
	t.mu.Lock()
	chunks := make([]chunkRecord, 0, len(t.chunks))
	for _, c := range t.chunks {
		chunks = append(chunks, c)
	}
	meta := t.meta
	t.mu.Unlock()

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].index < chunks[j].index })

	hasher := sha256.New()
	assembled := make([]byte, 0, meta.Size)
	for _, c := range chunks {
		hasher.Write(c.data)
		assembled = append(assembled, c.data...)
	}
	gotHash := hex.EncodeToString(hasher.Sum(nil))

	if meta.Hash != "" && gotHash != meta.Hash {
		t.mu.Lock()
		t.state = models.TransferAborted
		t.mu.Unlock()
		e.Logger.Error("filetransfer: whole-file hash mismatch, aborting", "transfer", t.id, "source", t.sourceID, "expected", meta.Hash, "got", gotHash)
		return fmt.Errorf("filetransfer: hash mismatch for transfer %s", t.id)
	}

	destPath := e.uniquePath(meta.Name)
	if err := os.WriteFile(destPath, assembled, 0o644); err != nil {
		t.mu.Lock()
		t.state = models.TransferAborted
		t.mu.Unlock()
		return fmt.Errorf("filetransfer: write output: %w", err)
	}

	t.mu.Lock()
	t.state = models.TransferComplete
	t.mu.Unlock()

	e.mu.Lock()
	delete(e.transfers, t.id)
	e.mu.Unlock()

	e.Logger.Info("filetransfer: transfer complete", "transfer", t.id, "path", destPath, "size", utils.HumanBytes(int64(len(assembled))))
	return nil
}

// uniquePath returns a path under OutputDir for name, appending an
// incrementing "(n)" suffix before the extension if name already exists.
func (e *Engine) uniquePath(name string) string {
	path := filepath.Join(e.OutputDir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := filepath.Join(e.OutputDir, fmt.Sprintf("%s(%d)%s", base, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// State reports a transfer's current lifecycle state, if known.
func (e *Engine) State(transferID string) (models.TransferState, bool) {
	e.mu.Lock()
	t, ok := e.transfers[transferID]
	e.mu.Unlock()
	if !ok {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, true
}
