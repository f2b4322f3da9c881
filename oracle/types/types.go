package types

import (
	"fmt"
	"strconv"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
)

// StatusCode is the flight status an oracle reports for a request.
type StatusCode uint8

const (
	StatusUnknown       StatusCode = 0
	StatusOnTime        StatusCode = 10
	StatusLateAirline   StatusCode = 20
	StatusLateWeather   StatusCode = 30
	StatusLateTechnical StatusCode = 40
	StatusLateOther     StatusCode = 50
)

// AllStatusCodes is the closed set of codes, in ascending order.
var AllStatusCodes = []StatusCode{
	StatusUnknown,
	StatusOnTime,
	StatusLateAirline,
	StatusLateWeather,
	StatusLateTechnical,
	StatusLateOther,
}

func ParseStatusCode(v uint8) (StatusCode, error) {
	code := StatusCode(v)
	if !code.Valid() {
		return StatusUnknown, errorsmod.Wrapf(ErrInvalidStatusCode, "%d", v)
	}

	return code, nil
}

func (c StatusCode) Valid() bool {
	switch c {
	case StatusUnknown, StatusOnTime, StatusLateAirline, StatusLateWeather, StatusLateTechnical, StatusLateOther:
		return true
	}

	return false
}

// Payable reports whether the code makes flight insurance payable. Only an
// airline-caused delay does.
func (c StatusCode) Payable() bool {
	return c == StatusLateAirline
}

func (c StatusCode) String() string {
	switch c {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusOnTime:
		return "ON_TIME"
	case StatusLateAirline:
		return "LATE_AIRLINE"
	case StatusLateWeather:
		return "LATE_WEATHER"
	case StatusLateTechnical:
		return "LATE_TECHNICAL"
	case StatusLateOther:
		return "LATE_OTHER"
	}

	return "STATUS(" + strconv.Itoa(int(c)) + ")"
}

// MaxIndex is the largest index the registrar hands out.
const MaxIndex uint8 = 9

// IndexSet holds the three indexes assigned to an oracle at registration.
type IndexSet [3]uint8

func (s IndexSet) Contains(index uint8) bool {
	for _, i := range s {
		if i == index {
			return true
		}
	}

	return false
}

func (s IndexSet) String() string {
	return fmt.Sprintf("%d,%d,%d", s[0], s[1], s[2])
}

// Oracle is a locally known oracle identity.
type Oracle struct {
	Address common.Address `json:"address"`
	Indexes IndexSet       `json:"indexes"`
}

// FlightKey identifies a flight on the ledger.
type FlightKey struct {
	Airline   common.Address `json:"airline"`
	Flight    string         `json:"flight"`
	Timestamp uint64         `json:"timestamp"`
}

func (k FlightKey) String() string {
	return strings.Join([]string{k.Airline.Hex(), k.Flight, strconv.FormatUint(k.Timestamp, 10)}, "/")
}

// RequestKey identifies one oracle request: the flight plus the index chosen
// by the ledger when the request was opened.
type RequestKey struct {
	Index uint8 `json:"index"`
	FlightKey
}

func (k RequestKey) String() string {
	return strconv.Itoa(int(k.Index)) + "/" + k.FlightKey.String()
}

// StatusRequest is a request for flight status observed on the ledger.
type StatusRequest struct {
	Index     uint8
	Airline   common.Address
	Flight    string
	Timestamp uint64
}

func (r StatusRequest) Key() RequestKey {
	return RequestKey{
		Index: r.Index,
		FlightKey: FlightKey{
			Airline:   r.Airline,
			Flight:    r.Flight,
			Timestamp: r.Timestamp,
		},
	}
}

// OracleResponse is one oracle's vote for one request.
type OracleResponse struct {
	Index      uint8
	Airline    common.Address
	Flight     string
	Timestamp  uint64
	StatusCode StatusCode
	Oracle     common.Address
}

func (r OracleResponse) Key() RequestKey {
	return StatusRequest{Index: r.Index, Airline: r.Airline, Flight: r.Flight, Timestamp: r.Timestamp}.Key()
}
