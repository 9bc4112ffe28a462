package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/amenzhinsky/iothub/iotservice"
	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

// IoTHubRegistry implements Registry against Azure IoT Hub's device
// registry, using the same client the teacher's gateway transport backend
// uses (internal/backend/gateway/azureiothub), here for registry queries
// rather than gateway pub/sub.
type IoTHubRegistry struct {
	client      *iotservice.Client
	pageSize    int
}

// NewIoTHubRegistry dials an IoT Hub registry client from a connection
// string, exactly as azureiothub.NewBackend does for the gateway transport.
func NewIoTHubRegistry(connectionString string, pageSize int) (*IoTHubRegistry, error) {
	client, err := iotservice.NewFromConnectionString(connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "registry: new iot hub client error")
	}

	if pageSize <= 0 {
		pageSize = 100
	}

	return &IoTHubRegistry{client: client, pageSize: pageSize}, nil
}

func deviceIDFromEUI(devEUI lorawan.EUI64) string {
	return "eui-" + devEUI.String()
}

// GetDevice implements Registry.
func (r *IoTHubRegistry) GetDevice(ctx context.Context, devEUI lorawan.EUI64) (DeviceCredentials, error) {
	dev, err := r.client.GetDevice(ctx, deviceIDFromEUI(devEUI))
	if err != nil {
		return DeviceCredentials{}, errors.Wrap(err, "registry: get device error")
	}
	if dev == nil {
		return DeviceCredentials{}, ErrDeviceNotFound
	}

	var primaryKey string
	if dev.Authentication != nil && dev.Authentication.SymmetricKey != nil {
		primaryKey = dev.Authentication.SymmetricKey.PrimaryKey
	}

	return DeviceCredentials{
		PrimaryKey:     primaryKey,
		AssignedIoTHub: dev.DeviceID,
	}, nil
}

// GetTwin implements Registry.
func (r *IoTHubRegistry) GetTwin(ctx context.Context, devEUI lorawan.EUI64) (Twin, error) {
	twin, err := r.client.GetDeviceTwin(ctx, deviceIDFromEUI(devEUI))
	if err != nil {
		return Twin{}, errors.Wrap(err, "registry: get twin error")
	}
	if twin == nil {
		return Twin{}, ErrDeviceNotFound
	}

	return twinFromIoTHub(devEUI, twin), nil
}

// FindByAddr implements Registry.
func (r *IoTHubRegistry) FindByAddr(ctx context.Context, devAddr lorawan.DevAddr) (TwinIterator, error) {
	query := fmt.Sprintf("SELECT * FROM devices.twins WHERE properties.desired.DevAddr = '%s'", devAddr)
	return r.newQueryIterator(query), nil
}

// FindConfiguredLoRaDevices implements Registry.
func (r *IoTHubRegistry) FindConfiguredLoRaDevices(ctx context.Context) (TwinIterator, error) {
	query := "SELECT * FROM devices.twins WHERE tags.deviceType = 'lora'"
	return r.newQueryIterator(query), nil
}

// FindByLastUpdateDate implements Registry.
func (r *IoTHubRegistry) FindByLastUpdateDate(ctx context.Context, since time.Time) (TwinIterator, error) {
	query := fmt.Sprintf(
		"SELECT * FROM devices.twins WHERE properties.reported.$metadata.$lastUpdated >= '%s'",
		since.UTC().Format(time.RFC3339),
	)
	return r.newQueryIterator(query), nil
}

func (r *IoTHubRegistry) newQueryIterator(query string) *queryIterator {
	return &queryIterator{
		query: r.client.CreateQuery(query),
	}
}

// queryIterator adapts iotservice.Query's page-at-a-time Next call to the
// TwinIterator interface.
type queryIterator struct {
	query *iotservice.Query
	done  bool
}

func (q *queryIterator) Next(ctx context.Context) ([]Twin, error) {
	if q.done {
		return nil, nil
	}

	var page []*iotservice.Twin
	ok, err := q.query.Next(ctx, &page)
	if err != nil {
		return nil, errors.Wrap(err, "registry: query next page error")
	}
	if !ok {
		q.done = true
	}

	out := make([]Twin, 0, len(page))
	for _, t := range page {
		var devEUI lorawan.EUI64
		if err := devEUI.UnmarshalText([]byte(trimDeviceIDPrefix(t.DeviceID))); err != nil {
			continue
		}
		out = append(out, twinFromIoTHub(devEUI, t))
	}

	return out, nil
}

func (q *queryIterator) Done() bool {
	return q.done
}

func trimDeviceIDPrefix(deviceID string) string {
	if len(deviceID) > 4 && deviceID[:4] == "eui-" {
		return deviceID[4:]
	}
	return deviceID
}

func twinFromIoTHub(devEUI lorawan.EUI64, t *iotservice.Twin) Twin {
	twin := Twin{DevEUI: devEUI}

	if t.Properties.Desired == nil {
		return twin
	}

	if v, ok := t.Properties.Desired["DevAddr"].(string); ok {
		var devAddr lorawan.DevAddr
		if err := devAddr.UnmarshalText([]byte(v)); err == nil {
			twin.DevAddr = devAddr
		}
	}
	if v, ok := t.Properties.Desired["GatewayId"].(string); ok {
		twin.GatewayID = v
	}
	if v, ok := t.Properties.Desired["NwkSKey"].(string); ok {
		twin.NwkSKey = v
	}

	twin.LastUpdated = t.Properties.Reported.Metadata.LastUpdated

	return twin
}
