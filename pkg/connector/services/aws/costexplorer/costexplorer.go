package costexplorer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/primait/lambda-deploy/pkg/io/logging"
)

const dateLayout = "2006-01-02"

type API interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

type CostExplorerClient struct {
	api    API
	logger logging.LogManager
	now    func() time.Time
}

// NewCostExplorerClient expects a configuration pinned to us-east-1, the only
// Cost Explorer endpoint.
func NewCostExplorerClient(cfg aws.Config) *CostExplorerClient {
	return NewCostExplorerClientWithAPI(costexplorer.NewFromConfig(cfg))
}

func NewCostExplorerClientWithAPI(api API) *CostExplorerClient {
	return &CostExplorerClient{api: api, logger: logging.GetLogManager(), now: time.Now}
}

// ServiceCost is the unblended month-to-date cost of one service.
type ServiceCost struct {
	Service string  `json:"service" csv:"service"`
	Amount  float64 `json:"amount" csv:"amount"`
	Unit    string  `json:"unit" csv:"unit"`
	Start   string  `json:"start" csv:"start"`
	End     string  `json:"end" csv:"end"`
}

// Period returns the month-to-date interval for now. The end date is exclusive, on
// the first day of the month it is moved to tomorrow to keep the interval non-empty.
func Period(now time.Time) (string, string) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start.Format(dateLayout), end.Format(dateLayout)
}

// MonthToDate returns the current month spend of each service.
func (cc *CostExplorerClient) MonthToDate(ctx context.Context, services []string) ([]ServiceCost, error) {
	start, end := Period(cc.now())
	output, err := cc.api.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod:  &types.DateInterval{Start: aws.String(start), End: aws.String(end)},
		Granularity: types.GranularityMonthly,
		Metrics:     []string{"UnblendedCost"},
		Filter: &types.Expression{
			Dimensions: &types.DimensionValues{
				Key:    types.DimensionService,
				Values: services,
			},
		},
		GroupBy: []types.GroupDefinition{{
			Type: types.GroupDefinitionTypeDimension,
			Key:  aws.String(string(types.DimensionService)),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("get cost and usage: %w", err)
	}

	totals := make(map[string]*ServiceCost, len(services))
	for _, s := range services {
		totals[s] = &ServiceCost{Service: s, Unit: "USD", Start: start, End: end}
	}
	for _, result := range output.ResultsByTime {
		for _, group := range result.Groups {
			if len(group.Keys) == 0 {
				continue
			}
			metric, ok := group.Metrics["UnblendedCost"]
			if !ok {
				continue
			}
			amount, err := strconv.ParseFloat(aws.ToString(metric.Amount), 64)
			if err != nil {
				cc.logger.Warn("Unparsable cost amount", "service", group.Keys[0], "amount", aws.ToString(metric.Amount))
				continue
			}
			cost, ok := totals[group.Keys[0]]
			if !ok {
				cost = &ServiceCost{Service: group.Keys[0], Start: start, End: end}
				totals[group.Keys[0]] = cost
			}
			cost.Amount += amount
			if unit := aws.ToString(metric.Unit); unit != "" {
				cost.Unit = unit
			}
		}
	}

	costs := make([]ServiceCost, 0, len(totals))
	for _, s := range services {
		costs = append(costs, *totals[s])
		delete(totals, s)
	}
	for _, c := range totals {
		costs = append(costs, *c)
	}
	return costs, nil
}
