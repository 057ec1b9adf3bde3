package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// -------------------- 统计 --------------------

type BenchStats struct {
	TotalRequests      int
	SuccessfulRequests int
	FailedRequests     int
	latencies          []time.Duration
	codes              map[int]int
	mu                 sync.Mutex
}

func NewBenchStats() *BenchStats {
	return &BenchStats{codes: make(map[int]int)}
}

func (s *BenchStats) Add(code int, success bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalRequests++
	s.codes[code]++
	if success {
		s.SuccessfulRequests++
		s.latencies = append(s.latencies, latency)
	} else {
		s.FailedRequests++
	}
}

func (s *BenchStats) percentile(p float64) time.Duration {
	if len(s.latencies) == 0 {
		return 0
	}
	idx := int(float64(len(s.latencies)-1) * p)
	return s.latencies[idx]
}

func (s *BenchStats) Report(took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sort.Slice(s.latencies, func(i, j int) bool { return s.latencies[i] < s.latencies[j] })

	var sum time.Duration
	for _, l := range s.latencies {
		sum += l
	}

	fmt.Println("\n=== 回调压测结果 ===")
	fmt.Printf("耗时: %v\n", took)
	fmt.Printf("总请求: %d 成功: %d 失败: %d\n", s.TotalRequests, s.SuccessfulRequests, s.FailedRequests)
	if len(s.latencies) > 0 {
		fmt.Printf("延迟 平均: %v P50: %v P95: %v P99: %v 最大: %v\n",
			sum/time.Duration(len(s.latencies)),
			s.percentile(0.50), s.percentile(0.95), s.percentile(0.99),
			s.latencies[len(s.latencies)-1],
		)
	}
	if took > 0 {
		fmt.Printf("QPS: %.2f\n", float64(s.SuccessfulRequests)/took.Seconds())
	}
	if s.TotalRequests > 0 {
		fmt.Printf("成功率: %.2f%%\n", float64(s.SuccessfulRequests)/float64(s.TotalRequests)*100)
	}
	fmt.Printf("状态码分布: %v\n", s.codes)
}

// -------------------- 回调请求 --------------------

var client = &http.Client{Timeout: 8 * time.Second}

func postForm(endpoint string, form url.Values) (int, error) {
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// inboundForm 模拟一条入站消息
func inboundForm(sid, prefix string, seq int64) url.Values {
	return url.Values{
		"MessageSid": {sid},
		"From":       {fmt.Sprintf("%s+1555%07d", prefix, seq%10000000)},
		"To":         {prefix + "+15550000000"},
		"Body":       {fmt.Sprintf("bench message %d", seq)},
	}
}

// statusForm 模拟同一sid的状态回调
func statusForm(sid, status string) url.Values {
	return url.Values{
		"MessageSid":    {sid},
		"MessageStatus": {status},
	}
}

func runCallbackBench(base string, concurrency, perGoroutine int, withStatus bool) {
	fmt.Println("\n=== 回调并发测试开始 ===")
	fmt.Printf("目标: %s 并发: %d 每协程请求: %d 状态回调: %v\n", base, concurrency, perGoroutine, withStatus)

	endpoint := strings.TrimRight(base, "/") + "/api/v1/callback/twilio"
	prefixes := []string{"", "whatsapp:", "messenger:"}
	statuses := []string{"sent", "delivered", "read"}

	stats := NewBenchStats()
	var seq int64
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				n := atomic.AddInt64(&seq, 1)
				sid := "SMbench" + strings.ReplaceAll(uuid.NewString(), "-", "")

				begin := time.Now()
				code, err := postForm(endpoint, inboundForm(sid, prefixes[(id+j)%len(prefixes)], n))
				stats.Add(code, err == nil && code == http.StatusOK, time.Since(begin))

				if !withStatus {
					continue
				}
				// 乱序投递，验证状态不回退
				for k := len(statuses) - 1; k >= 0; k-- {
					begin = time.Now()
					code, err = postForm(endpoint, statusForm(sid, statuses[k]))
					stats.Add(code, err == nil && code == http.StatusOK, time.Since(begin))
				}
			}
		}(i)
	}

	wg.Wait()
	stats.Report(time.Since(start))
}

// -------------------- 入口 --------------------

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "gateway base url")
	concurrency := flag.Int("c", 5, "concurrent workers")
	perGoroutine := flag.Int("n", 10, "requests per worker")
	withStatus := flag.Bool("status", true, "send out-of-order status callbacks for each inbound message")
	flag.Parse()

	if *concurrency <= 0 || *perGoroutine <= 0 {
		fmt.Println("并发数和请求数必须大于0")
		os.Exit(1)
	}

	fmt.Println("=== 消息网关回调压测 ===")
	fmt.Printf("开始时间: %s\n", time.Now().Format("2006-01-02 15:04:05"))

	runCallbackBench(*baseURL, *concurrency, *perGoroutine, *withStatus)

	fmt.Println("\n=== 测试完成 ===")
}
