package archiver

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "trendoracle/config"
	"trendoracle/internal/channel"
	"trendoracle/logger"
	"trendoracle/models"
)

// proofRecord defines the parquet schema for archived proofs.
type proofRecord struct {
	TrendID           string  `parquet:"name=trend_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ProofHash         string  `parquet:"name=proof_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	MerkleRoot        string  `parquet:"name=merkle_root, type=BYTE_ARRAY, convertedtype=UTF8"`
	ViralityScore     float64 `parquet:"name=virality_score, type=DOUBLE"`
	Confidence        float64 `parquet:"name=confidence, type=DOUBLE"`
	ConsensusLevel    float64 `parquet:"name=consensus_level, type=DOUBLE"`
	ConsensusStrength float64 `parquet:"name=consensus_strength, type=DOUBLE"`
	NetworkType       string  `parquet:"name=network_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt         int64   `parquet:"name=created_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// memoryFileWriter implements ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// Archiver buffers issued proofs and flushes them as parquet objects to
// S3 for offline audit. The archive is best-effort: the proof store is
// the durable record, so flush failures are logged and dropped.
type Archiver struct {
	config   *appconfig.Config
	proofsCh <-chan models.OracleProof
	s3Client *s3.Client
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	buffer []proofRecord

	// Metrics, updated atomically: flushBuffer runs from the worker,
	// the flusher and Stop.
	objectsWritten int64
	rowsWritten    int64
	errorsCount    int64
}

// Stats reports archive progress counters.
type Stats struct {
	ObjectsWritten int64
	RowsWritten    int64
	Errors         int64
}

// New creates an Archiver backed by the configured S3 bucket.
func New(cfg *appconfig.Config, archive *channel.Archive) (*Archiver, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Archive.S3.Region)}
	if cfg.Archive.S3.AccessKeyID != "" && cfg.Archive.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Archive.S3.AccessKeyID,
				cfg.Archive.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	a := &Archiver{
		config:   cfg,
		proofsCh: archive.Proofs,
		s3Client: s3.NewFromConfig(awsCfg),
		wg:       &sync.WaitGroup{},
		log:      log,
		buffer:   make([]proofRecord, 0, cfg.Archive.BatchSize),
	}

	log.WithComponent("archiver").WithFields(logger.Fields{
		"bucket": cfg.Archive.S3.Bucket,
		"region": cfg.Archive.S3.Region,
	}).Info("archiver initialized")

	return a, nil
}

// Start launches the buffering worker and the periodic flusher.
func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("archiver already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	log := a.log.WithComponent("archiver").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting archiver")

	a.wg.Add(1)
	go a.worker()

	a.wg.Add(1)
	go a.flusher()

	log.Info("archiver started successfully")
	return nil
}

// Stop flushes the remaining buffer and waits for workers to exit.
func (a *Archiver) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	a.log.WithComponent("archiver").Info("stopping archiver")
	a.wg.Wait()
	a.flushBuffer("shutdown")
	a.log.WithComponent("archiver").Info("archiver stopped")
}

func (a *Archiver) worker() {
	defer a.wg.Done()

	log := a.log.WithComponent("archiver").WithFields(logger.Fields{"worker": "buffer"})
	log.Info("starting archive worker")

	for {
		select {
		case <-a.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case p, ok := <-a.proofsCh:
			if !ok {
				log.Info("archive channel closed, worker stopping")
				return
			}
			a.addProof(p)
		}
	}
}

func (a *Archiver) addProof(p models.OracleProof) {
	rec := proofRecord{
		TrendID:           p.TrendID,
		ProofHash:         p.ProofHash,
		MerkleRoot:        p.MerkleRoot,
		ViralityScore:     p.ViralityScore,
		Confidence:        p.Confidence,
		ConsensusLevel:    p.ConsensusLevel,
		ConsensusStrength: p.ConsensusStrength,
		NetworkType:       p.NetworkType,
		CreatedAt:         p.CreatedAt.UnixMilli(),
	}

	a.mu.Lock()
	a.buffer = append(a.buffer, rec)
	full := len(a.buffer) >= a.config.Archive.BatchSize
	a.mu.Unlock()

	if full {
		a.flushBuffer("batch_full")
	}
}

func (a *Archiver) flusher() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.Archive.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.flushBuffer("interval")
		}
	}
}

func (a *Archiver) flushBuffer(reason string) {
	a.mu.Lock()
	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return
	}
	records := a.buffer
	a.buffer = make([]proofRecord, 0, a.config.Archive.BatchSize)
	a.mu.Unlock()

	log := a.log.WithComponent("archiver").WithFields(logger.Fields{
		"records":   len(records),
		"reason":    reason,
		"operation": "flush",
	})

	data, err := a.encodeParquet(records)
	if err != nil {
		a.recordFlushError()
		log.WithError(err).Error("failed to encode parquet")
		return
	}

	key := fmt.Sprintf("%s/dt=%s/proofs-%s.parquet",
		a.config.Archive.S3.Prefix,
		time.Now().UTC().Format("2006-01-02"),
		uuid.New().String(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.config.Archive.S3.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		a.recordFlushError()
		log.WithError(err).Error("failed to upload archive object")
		return
	}

	a.recordFlushSuccess(int64(len(records)))
	logger.IncrementArchiveWrite(int64(len(data)))

	log.WithFields(logger.Fields{
		"key":   key,
		"bytes": len(data),
	}).Info("archive object written")
}

func (a *Archiver) recordFlushSuccess(rows int64) {
	objects := atomic.AddInt64(&a.objectsWritten, 1)
	total := atomic.AddInt64(&a.rowsWritten, rows)
	a.log.LogMetric("archiver", "objects_written", objects, "counter", nil)
	a.log.LogMetric("archiver", "rows_written", total, "counter", nil)
}

func (a *Archiver) recordFlushError() {
	count := atomic.AddInt64(&a.errorsCount, 1)
	a.log.LogMetric("archiver", "flush_errors", count, "counter", nil)
}

// GetStats returns the archive counters.
func (a *Archiver) GetStats() Stats {
	return Stats{
		ObjectsWritten: atomic.LoadInt64(&a.objectsWritten),
		RowsWritten:    atomic.LoadInt64(&a.rowsWritten),
		Errors:         atomic.LoadInt64(&a.errorsCount),
	}
}

func (a *Archiver) encodeParquet(records []proofRecord) ([]byte, error) {
	mfw := newMemoryFileWriter()
	pw, err := writer.NewParquetWriter(mfw, new(proofRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			return nil, fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet file: %w", err)
	}

	return mfw.Bytes(), nil
}
