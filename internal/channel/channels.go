package channel

import (
	"context"
	"sync"

	"trendoracle/logger"
	"trendoracle/models"
)

type ArchiveStats struct {
	Sent    int64
	Dropped int64
}

// Archive is the buffered hand-off between the coordinator and the S3
// archiver. Sends never block a consensus round: when the buffer is
// full the proof is dropped from the archive (it is already durable in
// the proof store) and the drop is accounted.
type Archive struct {
	Proofs chan models.OracleProof

	stats      ArchiveStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewArchive(bufferSize int) *Archive {
	log := logger.GetLogger()
	if bufferSize <= 0 {
		bufferSize = 64
	}
	c := &Archive{
		Proofs: make(chan models.OracleProof, bufferSize),
		log:    log,
	}

	log.WithComponent("archive_channel").WithFields(logger.Fields{
		"buffer_size": bufferSize,
	}).Info("archive channel initialized")

	return c
}

func (c *Archive) Close() {
	close(c.Proofs)
	c.log.WithComponent("archive_channel").Info("archive channel closed")
}

func (c *Archive) Send(ctx context.Context, p models.OracleProof) bool {
	select {
	case c.Proofs <- p:
		c.statsMutex.Lock()
		c.stats.Sent++
		c.statsMutex.Unlock()
		logger.RecordChannelMessage("archive", len(p.PayloadJSON))
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.Dropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Archive) GetStats() ArchiveStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
