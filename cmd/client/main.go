package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/deb2000-sudo/connrelay/internal/chunker"
	"github.com/deb2000-sudo/connrelay/internal/transport"
	"github.com/deb2000-sudo/connrelay/pkg/codec"
	"github.com/deb2000-sudo/connrelay/pkg/models"
)

func main() {
	serverAddr := flag.String("server", "", "server address (host:port)")
	filePath := flag.String("file", "", "file to transfer (optional; omit to send a single heartbeat and exit)")
	chunkSize := flag.Int64("chunk-size", 50*1024*1024, "chunk size in bytes")
	protocolVersion := flag.Uint("protocol-version", 2, "protocol version byte to encode frames with")
	flag.Parse()

	if *serverAddr == "" {
		flag.Usage()
		os.Exit(1)
	}

	c := codec.New(codec.DefaultConfig())
	conn := dial(*serverAddr)
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		log.Println("interrupt received, closing connection")
		conn.Close()
		os.Exit(1)
	}()

	heartbeat := &models.Message{Kind: models.InfoHeartbeat, Priority: models.PriorityHigh}
	if err := sendMessage(conn, c, uint8(*protocolVersion), heartbeat); err != nil {
		log.Fatalf("send heartbeat: %v", err)
	}
	log.Println("heartbeat sent")

	if *filePath == "" {
		return
	}

	info, err := os.Stat(*filePath)
	if err != nil {
		log.Fatalf("stat input file: %v", err)
	}

	ch := chunker.New(chunker.Config{DefaultChunkSize: *chunkSize})
	chunks, err := ch.ChunkFile(*filePath, *chunkSize)
	if err != nil {
		log.Fatalf("chunk file: %v", err)
	}

	transferID := fmt.Sprintf("%s-%s", info.Name(), uuid.NewString())

	bar := progressbar.NewOptions64(
		info.Size(),
		progressbar.OptionSetDescription("transferring"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	for _, chunk := range chunks {
		msg := &models.Message{
			Kind:        models.InfoFileChunkClientToServer,
			Priority:    models.PriorityMedium,
			Bytes:       chunk.Data,
			TransferID:  transferID,
			ChunkIndex:  chunk.Index,
			TotalChunks: uint32(len(chunks)),
			ChunkHash:   chunk.Hash,
			FileName:    info.Name(),
			FileSize:    info.Size(),
		}
		if err := sendMessage(conn, c, uint8(*protocolVersion), msg); err != nil {
			log.Fatalf("send chunk %d: %v", chunk.Index, err)
		}
		_ = bar.Add64(int64(len(chunk.Data)))
	}

	log.Printf("transfer %s complete, %d chunks sent", transferID, len(chunks))
}

// dial connects to addr, retrying with backoff and a circuit breaker via
// internal/transport.DialRetry rather than failing on the first refused
// connection (the server may still be starting its listeners).
func dial(addr string) net.Conn {
	retry := transport.NewDialRetry()
	attempt := 0
	for {
		attempt++
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			retry.RecordSuccess(addr)
			return conn
		}
		retry.RecordFailure(addr)
		if retry.CircuitStateFor(addr) == transport.CircuitOpen {
			log.Fatalf("dial %s: circuit open after %d failures: %v", addr, attempt, err)
		}
		backoff := retry.NextBackoff(attempt)
		log.Printf("dial %s failed (attempt %d): %v, retrying in %s", addr, attempt, err, backoff)
		time.Sleep(backoff)
	}
}

func sendMessage(conn net.Conn, c *codec.Codec, version uint8, msg *models.Message) error {
	frame, err := c.Encode(version, msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	for written := 0; written < len(frame); {
		n, err := conn.Write(frame[written:])
		if err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		written += n
	}
	return nil
}
