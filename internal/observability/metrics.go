package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulkmsg_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	CampaignStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulkmsg_campaign_starts_total", Help: "Campaign start outcomes"},
		[]string{"result"},
	)
	Enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulkmsg_enqueue_total", Help: "Dispatch queue enqueue results"},
		[]string{"result"},
	)
	WorkerTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulkmsg_worker_tasks_total", Help: "Delivery worker task outcomes"},
		[]string{"outcome"},
	)
	WorkerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulkmsg_worker_errors_total", Help: "Delivery worker loop errors"},
		[]string{"stage"},
	)
	ProviderSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulkmsg_provider_send_total", Help: "Provider send outcomes"},
		[]string{"provider", "result", "http_status"},
	)
	ProviderLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "bulkmsg_provider_send_latency_seconds", Help: "Provider send latency"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulkmsg_webhook_events_total", Help: "Provider status callbacks"},
		[]string{"status", "matched"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, CampaignStarts, Enqueues, WorkerTasks, WorkerErrors,
		ProviderSends, ProviderLatency, WebhookEvents)
}
