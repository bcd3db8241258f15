package harvia

// Cognito region used by the Harvia cloud.
const cognitoRegion = "eu-west-1"

// DefaultBaseURL is the endpoint discovery service.
const DefaultBaseURL = "https://prod.myharvia-cloud.net"

// Endpoint names exposed by the discovery service.
var endpointNames = []string{"users", "device", "events", "data"}

// endpointInfo is one entry returned by {base}/{name}/endpoint.
type endpointInfo struct {
	Endpoint       string `json:"endpoint"`
	UserPoolId     string `json:"userPoolId"`
	ClientId       string `json:"clientId"`
	IdentityPoolId string `json:"identityPoolId"`
}

// GraphQL documents, verbatim from the backend schema.
const (
	queryListDevices = `query ListDevices {listDevices {items {id displayName type hwVersion swVersion connectionState active }}}`

	queryLatestDeviceData = `query GetLatestDeviceData($deviceId: ID!) {getLatestDeviceData(deviceId: $deviceId) {active deviceId fan humidity light moisture remoteStartEn remainingTime steamEn steamOn statusCodes targetRh targetTemp temperature timestamp}}`

	mutationUpdateDevice = `mutation UpdateDevice($deviceId: ID!, $input: UpdateDeviceInput!) {updateDevice(deviceId: $deviceId, input: $input) {active fan light moisture steamEn steamOn statusCodes targetRh targetTemp}}`

	subscriptionDeviceData = `subscription OnDeviceDataChanged($deviceId: ID!) { onDeviceDataChanged(deviceId: $deviceId) { active deviceId fan humidity light moisture remoteStartEn remainingTime steamEn steamOn statusCodes targetRh targetTemp temperature timestamp }}`

	subscriptionDeviceChanged = `subscription OnDeviceChanged($deviceId: ID!) { onDeviceChanged(deviceId: $deviceId) { active connectionState displayName fan hwVersion id light metadata moisture remoteStartEn swVersion targetRh targetTemp type }}`
)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	ErrorType string `json:"errorType"`
	Message   string `json:"message"`
}

type deviceListItem struct {
	Id              string `json:"id"`
	DisplayName     string `json:"displayName"`
	Type            string `json:"type"`
	HwVersion       string `json:"hwVersion"`
	SwVersion       string `json:"swVersion"`
	ConnectionState string `json:"connectionState"`
}
