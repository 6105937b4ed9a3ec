package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	roundsProcessed int64
	roundsFailed    int64
	proofsIssued    int64
	verifications   int64
	archiveWrites   int64
	errorsTotal     int64
	warnsTotal      int64
	channels        sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	atomic.AddInt64(&warnsTotal, 1)
	recordChannel("warns_"+component, 0)
}

func recordError(component string) {
	atomic.AddInt64(&errorsTotal, 1)
	recordChannel("errors_"+component, 0)
}

// IncrementRoundProcessed counts one completed consensus round.
func IncrementRoundProcessed() {
	atomic.AddInt64(&roundsProcessed, 1)
}

// IncrementRoundFailed counts one round aborted before a proof was issued.
func IncrementRoundFailed() {
	atomic.AddInt64(&roundsFailed, 1)
}

// IncrementProofIssued counts one persisted proof of the given encoded size.
func IncrementProofIssued(size int) {
	atomic.AddInt64(&proofsIssued, 1)
	recordChannel("proof_store", size)
}

// IncrementVerification counts one proof verification attempt.
func IncrementVerification() {
	atomic.AddInt64(&verifications, 1)
}

// IncrementArchiveWrite counts one archive object of the given size.
func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
	recordChannel("archive_s3", int(size))
}

// RecordChannelMessage accounts one message of the given size on a named channel.
func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport begins periodic logging of system and throughput statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	fields := Fields{
		"rounds_processed": atomic.LoadInt64(&roundsProcessed),
		"rounds_failed":    atomic.LoadInt64(&roundsFailed),
		"proofs_issued":    atomic.LoadInt64(&proofsIssued),
		"verifications":    atomic.LoadInt64(&verifications),
		"archive_writes":   atomic.LoadInt64(&archiveWrites),
		"errors_total":     atomic.LoadInt64(&errorsTotal),
		"warns_total":      atomic.LoadInt64(&warnsTotal),
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        int64(memStats.Used) / 1024 / 1024,
		"disk_mb":          int64(diskStats.Used) / 1024 / 1024,
		"channels":         channelData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Oracle-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Oracle-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Oracle-RoundsProcessed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&roundsProcessed)))},
		cwtypes.MetricDatum{MetricName: aws.String("Oracle-RoundsFailed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&roundsFailed)))},
		cwtypes.MetricDatum{MetricName: aws.String("Oracle-ProofsIssued"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&proofsIssued)))},
		cwtypes.MetricDatum{MetricName: aws.String("Oracle-Verifications"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&verifications)))},
		cwtypes.MetricDatum{MetricName: aws.String("Oracle-ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&archiveWrites)))},
		cwtypes.MetricDatum{MetricName: aws.String("Oracle-ErrorsTotal"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsTotal)))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Oracle-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Oracle-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
