package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"policypulse/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metrics is the pipeline metrics sink. Implementations must never fail a
// job: publish errors are logged and swallowed.
type Metrics interface {
	// RecordJobRun emits the item count and duration of one job run.
	RecordJobRun(ctx context.Context, job string, items int, duration time.Duration)

	// RecordDispatch emits per-outcome counts of one dispatcher run.
	RecordDispatch(ctx context.Context, summary *types.DispatchSummary)

	// RecordLifecycle emits the lifecycle transition counts.
	RecordLifecycle(ctx context.Context, counts *types.LifecycleCounts)
}

// NoopMetrics discards all metrics. Used when CloudWatch is not configured.
type NoopMetrics struct{}

func (NoopMetrics) RecordJobRun(context.Context, string, int, time.Duration) {}
func (NoopMetrics) RecordDispatch(context.Context, *types.DispatchSummary)   {}
func (NoopMetrics) RecordLifecycle(context.Context, *types.LifecycleCounts)  {}

// CloudWatchMetrics publishes pipeline metrics to a CloudWatch namespace.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the given
// namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordJobRun emits JobItems and JobDuration with a Job dimension.
func (m *CloudWatchMetrics) RecordJobRun(ctx context.Context, job string, items int, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String("Job"), Value: aws.String(job)},
	}
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String("JobItems"),
			Value:      aws.Float64(float64(items)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		{
			MetricName: aws.String("JobDuration"),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	})
}

// RecordDispatch emits RemindersSent, RemindersFailed, and RemindersSkipped.
func (m *CloudWatchMetrics) RecordDispatch(ctx context.Context, summary *types.DispatchSummary) {
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String("RemindersSent"),
			Value:      aws.Float64(float64(summary.Sent)),
			Unit:       cwtypes.StandardUnitCount,
		},
		{
			MetricName: aws.String("RemindersFailed"),
			Value:      aws.Float64(float64(summary.Failed)),
			Unit:       cwtypes.StandardUnitCount,
		},
		{
			MetricName: aws.String("RemindersSkipped"),
			Value:      aws.Float64(float64(summary.Skipped)),
			Unit:       cwtypes.StandardUnitCount,
		},
	})
}

// RecordLifecycle emits PoliciesPendingRenewal and PoliciesLapsed.
func (m *CloudWatchMetrics) RecordLifecycle(ctx context.Context, counts *types.LifecycleCounts) {
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String("PoliciesPendingRenewal"),
			Value:      aws.Float64(float64(counts.PendingRenewal)),
			Unit:       cwtypes.StandardUnitCount,
		},
		{
			MetricName: aws.String("PoliciesLapsed"),
			Value:      aws.Float64(float64(counts.Lapsed)),
			Unit:       cwtypes.StandardUnitCount,
		},
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, data []cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish metrics",
			"namespace", m.namespace,
			"error", err,
		)
	}
}

// Compile-time assertions that both sinks implement Metrics.
var (
	_ Metrics = (*CloudWatchMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
