package forward

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"

	"coffee-telemetry/internal/core/fleet"
)

type iotDataAPI interface {
	Publish(ctx context.Context, params *iotdataplane.PublishInput, optFns ...func(*iotdataplane.Options)) (*iotdataplane.PublishOutput, error)
}

// IoTData publishes to the AWS IoT data plane at QoS 0.
type IoTData struct {
	api iotDataAPI
}

// NewIoTData targets endpoint, either a bare host
// (xxxx-ats.iot.<region>.amazonaws.com) or a full URL. The data plane
// host is account specific, so it always overrides the SDK resolver.
func NewIoTData(cfg aws.Config, endpoint string) (*IoTData, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("iotdata: empty endpoint")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("iotdata: no credentials")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	client := iotdataplane.NewFromConfig(cfg, func(o *iotdataplane.Options) {
		o.EndpointResolver = iotdataplane.EndpointResolverFromURL(endpoint)
	})
	return &IoTData{api: client}, nil
}

func (s *IoTData) Name() string { return "iotdata" }

func (s *IoTData) Forward(ctx context.Context, topic string, snap fleet.Snapshot) error {
	body, err := Payload(snap)
	if err != nil {
		return err
	}
	_, err = s.api.Publish(ctx, &iotdataplane.PublishInput{
		Topic:   aws.String(topic),
		Payload: body,
		Qos:     0,
	})
	if err != nil {
		return fmt.Errorf("iotdata: publish: %w", err)
	}
	return nil
}
