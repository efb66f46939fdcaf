package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for requests and the segmentation pipeline.
// In-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	uploadsTotal     int64
	uploadBytesTotal int64
	transitionsTotal = make(map[string]int64)
	transcodesTotal  = make(map[string]int64)
	transcodeMsSum   int64
	transcodeMsCount int64
	segmentsTotal    int64
	retentionDeleted = make(map[string]int64)
	rateLimitedTotal int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordUpload counts one accepted upload of size bytes.
func RecordUpload(size int64) {
	mu.Lock()
	defer mu.Unlock()
	uploadsTotal++
	if size > 0 {
		uploadBytesTotal += size
	}
}

// RecordTransition counts a persisted status change into status.
func RecordTransition(status string) {
	mu.Lock()
	defer mu.Unlock()
	transitionsTotal[status]++
}

// RecordTranscode records one ffmpeg run. outcome is success, failed or
// timeout.
func RecordTranscode(outcome string, durationMs int64, segments int) {
	mu.Lock()
	defer mu.Unlock()
	transcodesTotal[outcome]++
	transcodeMsSum += durationMs
	transcodeMsCount++
	if segments > 0 {
		segmentsTotal += int64(segments)
	}
}

// RecordRetentionJobs increments the counter of jobs deleted by TTL for
// a given final status.
func RecordRetentionJobs(status string, deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionDeleted[status] += deleted
}

// RecordRateLimited counts a request rejected by the rate limiter.
func RecordRateLimited() {
	mu.Lock()
	defer mu.Unlock()
	rateLimitedTotal++
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP podillustrator_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE podillustrator_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		fmt.Fprintf(&b, "podillustrator_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	b.WriteString("# HELP podillustrator_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE podillustrator_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP podillustrator_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE podillustrator_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "podillustrator_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "podillustrator_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP podillustrator_uploads_total Accepted uploads\n")
	b.WriteString("# TYPE podillustrator_uploads_total counter\n")
	fmt.Fprintf(&b, "podillustrator_uploads_total %d\n", uploadsTotal)
	b.WriteString("# HELP podillustrator_upload_bytes_total Bytes stored from uploads\n")
	b.WriteString("# TYPE podillustrator_upload_bytes_total counter\n")
	fmt.Fprintf(&b, "podillustrator_upload_bytes_total %d\n", uploadBytesTotal)

	b.WriteString("# HELP podillustrator_job_transitions_total Persisted job status changes by target status\n")
	b.WriteString("# TYPE podillustrator_job_transitions_total counter\n")
	for _, s := range sortedKeys(transitionsTotal) {
		fmt.Fprintf(&b, "podillustrator_job_transitions_total{status=\"%s\"} %d\n", s, transitionsTotal[s])
	}

	b.WriteString("# HELP podillustrator_transcodes_total ffmpeg runs by outcome\n")
	b.WriteString("# TYPE podillustrator_transcodes_total counter\n")
	for _, o := range sortedKeys(transcodesTotal) {
		fmt.Fprintf(&b, "podillustrator_transcodes_total{outcome=\"%s\"} %d\n", o, transcodesTotal[o])
	}
	b.WriteString("# HELP podillustrator_transcode_duration_ms_sum Total ffmpeg run time in milliseconds\n")
	b.WriteString("# TYPE podillustrator_transcode_duration_ms_sum counter\n")
	fmt.Fprintf(&b, "podillustrator_transcode_duration_ms_sum %d\n", transcodeMsSum)
	b.WriteString("# HELP podillustrator_transcode_duration_ms_count ffmpeg runs for the duration metric\n")
	b.WriteString("# TYPE podillustrator_transcode_duration_ms_count counter\n")
	fmt.Fprintf(&b, "podillustrator_transcode_duration_ms_count %d\n", transcodeMsCount)

	b.WriteString("# HELP podillustrator_segments_total Segments produced\n")
	b.WriteString("# TYPE podillustrator_segments_total counter\n")
	fmt.Fprintf(&b, "podillustrator_segments_total %d\n", segmentsTotal)

	b.WriteString("# HELP podillustrator_retention_jobs_deleted_total Total jobs deleted by TTL\n")
	b.WriteString("# TYPE podillustrator_retention_jobs_deleted_total counter\n")
	for _, s := range sortedKeys(retentionDeleted) {
		fmt.Fprintf(&b, "podillustrator_retention_jobs_deleted_total{status=\"%s\"} %d\n", s, retentionDeleted[s])
	}

	b.WriteString("# HELP podillustrator_rate_limited_total Requests rejected by the rate limiter\n")
	b.WriteString("# TYPE podillustrator_rate_limited_total counter\n")
	fmt.Fprintf(&b, "podillustrator_rate_limited_total %d\n", rateLimitedTotal)

	return b.String()
}
