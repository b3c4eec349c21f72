// SPDX-License-Identifier: MIT

package spanpanel

// RelayState is the state of a panel or circuit relay.
type RelayState string

const (
	RelayOpen    RelayState = "OPEN"
	RelayClosed  RelayState = "CLOSED"
	RelayUnknown RelayState = "UNKNOWN"
)

// Valid reports whether s is a state the panel accepts in a relay command.
func (s RelayState) Valid() bool {
	return s == RelayOpen || s == RelayClosed
}

// Priority is the load-shedding priority of a circuit.
type Priority string

const (
	PriorityMustHave     Priority = "MUST_HAVE"
	PriorityNiceToHave   Priority = "NICE_TO_HAVE"
	PriorityNonEssential Priority = "NON_ESSENTIAL"
	PriorityUnknown      Priority = "UNKNOWN"
)

// Valid reports whether p can be sent in a priority command.
func (p Priority) Valid() bool {
	switch p {
	case PriorityMustHave, PriorityNiceToHave, PriorityNonEssential:
		return true
	}
	return false
}

// StatusOut is the panel's /api/v1/status document. It is served without
// authentication and carries the proximity-proof fields used during
// registration.
type StatusOut struct {
	Software SoftwareStatus `json:"software"`
	System   SystemStatus   `json:"system"`
	Network  NetworkStatus  `json:"network"`
}

type SoftwareStatus struct {
	FirmwareVersion string `json:"firmwareVersion"`
	UpdateStatus    string `json:"updateStatus"`
	Env             string `json:"env"`
}

type SystemStatus struct {
	Manufacturer string `json:"manufacturer"`
	Serial       string `json:"serial"`
	Model        string `json:"model"`
	DoorState    string `json:"doorState"`
	UptimeMs     int64  `json:"uptime"`

	// ProximityProven is only reported by firmware >= r202342; older panels
	// expose the unlock-button countdown instead.
	ProximityProven                  *bool `json:"proximityProven,omitempty"`
	RemainingAuthUnlockButtonPresses int   `json:"remainingAuthUnlockButtonPresses"`
}

type NetworkStatus struct {
	Eth0Link bool `json:"eth0Link"`
	WlanLink bool `json:"wlanLink"`
	WwanLink bool `json:"wwanLink"`
}

// PanelState is the panel's /api/v1/panel document: main relay, grid power
// and the per-position branch measurements.
type PanelState struct {
	MainRelayState     RelayState  `json:"mainRelayState"`
	InstantGridPowerW  float64     `json:"instantGridPowerW"`
	FeedthroughPowerW  float64     `json:"feedthroughPowerW"`
	GridSampleStartMs  int64       `json:"gridSampleStartMs"`
	GridSampleEndMs    int64       `json:"gridSampleEndMs"`
	DsmGridState       string      `json:"dsmGridState"`
	DsmState           string      `json:"dsmState"`
	CurrentRunConfig   string      `json:"currentRunConfig"`
	MainMeterEnergy    EnergyAccum `json:"mainMeterEnergy"`
	FeedthroughEnergy  EnergyAccum `json:"feedthroughEnergy"`
	Branches           []Branch    `json:"branches"`
}

type EnergyAccum struct {
	ProducedEnergyWh float64 `json:"producedEnergyWh"`
	ConsumedEnergyWh float64 `json:"consumedEnergyWh"`
}

// Branch is one physical tab position in the panel. Positions not mapped to
// a circuit (e.g. inverter feeds) only show up here.
type Branch struct {
	ID                     int        `json:"id"`
	RelayState             RelayState `json:"relayState"`
	InstantPowerW          float64    `json:"instantPowerW"`
	ImportedActiveEnergyWh float64    `json:"importedActiveEnergyWh"`
	ExportedActiveEnergyWh float64    `json:"exportedActiveEnergyWh"`
	MeasureStartTsMs       int64      `json:"measureStartTsMs"`
	MeasureDurationMs      int64      `json:"measureDurationMs"`
	IsMeasureValid         bool       `json:"isMeasureValid"`
}

// Circuit is one logical circuit from /api/v1/circuits.
type Circuit struct {
	ID                     string     `json:"id"`
	Name                   string     `json:"name"`
	RelayState             RelayState `json:"relayState"`
	InstantPowerW          float64    `json:"instantPowerW"`
	InstantPowerUpdateTimeS int64     `json:"instantPowerUpdateTimeS"`
	ProducedEnergyWh       float64    `json:"producedEnergyWh"`
	ConsumedEnergyWh       float64    `json:"consumedEnergyWh"`
	EnergyAccumUpdateTimeS int64      `json:"energyAccumUpdateTimeS"`
	Tabs                   []int      `json:"tabs"`
	Priority               Priority   `json:"priority"`
	IsUserControllable     bool       `json:"isUserControllable"`
	IsSheddable            bool       `json:"isSheddable"`
	IsNeverBackup          bool       `json:"isNeverBackup"`
}

// CircuitsOut is the /api/v1/circuits envelope.
type CircuitsOut struct {
	Circuits map[string]Circuit `json:"circuits"`
}

// BatteryStorage is the /api/v1/storage/soe envelope.
type BatteryStorage struct {
	SOE StateOfEnergy `json:"soe"`
}

type StateOfEnergy struct {
	Percentage float64 `json:"percentage"`
}

// RegisterOut is the response of /api/v1/auth/register.
type RegisterOut struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	IATMs       int64  `json:"iatMs"`
}

// relayStateIn / priorityIn match the panel's circuit POST body shape.
type relayStateIn struct {
	RelayStateIn struct {
		RelayState RelayState `json:"relayState"`
	} `json:"relayStateIn"`
}

type priorityIn struct {
	PriorityIn struct {
		Priority Priority `json:"priority"`
	} `json:"priorityIn"`
}

type registerIn struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
