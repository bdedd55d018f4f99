// Package token defines the XML token envelope that carries a workflow
// instance across the UDP event bus (spec §3 Token).
package token

import "encoding/xml"

// Token is the XML envelope exchanged between orchestrators.
type Token struct {
	XMLName xml.Name `xml:"token"`
	Header  Header   `xml:"header"`
	Join    *Join    `xml:"joinAttribute,omitempty"`
	Service Service  `xml:"service"`
	Monitor Monitor  `xml:"monitorData"`
	Trans   *TransMeta `xml:"transition,omitempty"`
}

// Header carries identity and rule-base version.
type Header struct {
	SequenceID            int64 `xml:"sequenceId"`
	RuleBaseVersion       string `xml:"ruleBaseVersion"`
	MonitorIncomingEvents bool   `xml:"monitorIncomingEvents"`
}

// Join carries the attribute this branch contributes to a join, and the
// hard expiry for the join it may be part of.
type Join struct {
	AttributeName  string `xml:"attributeName"`
	AttributeValue string `xml:"attributeValue"`
	NotAfter       int64  `xml:"notAfter"` // absolute epoch millis
}

// Service names the intended recipient.
type Service struct {
	ServiceName string `xml:"serviceName"`
	Operation   string `xml:"operation"`
}

// Monitor carries timing and provenance used by telemetry.
type Monitor struct {
	ProcessStartTime   int64  `xml:"processStartTime"`
	EventArrivalTime   int64  `xml:"eventArrivalTime"`
	ProcessElapsedTime int64  `xml:"processElapsedTime"`
	CallingService     string `xml:"callingService"`
	LostEvents         int    `xml:"lostEvents"`
}

// TransMeta carries optional lineage metadata: the previous place, the
// fork transition that produced this branch, and the parent token id.
type TransMeta struct {
	PreviousPlace   string `xml:"previousPlace,omitempty"`
	ForkTransition  string `xml:"forkTransition,omitempty"`
	ParentTokenID   int64  `xml:"parentTokenId,omitempty"`
}

// Marshal encodes a Token as an XML document.
func Marshal(t *Token) ([]byte, error) {
	return xml.Marshal(t)
}

// Unmarshal decodes an XML document into a Token.
func Unmarshal(data []byte) (*Token, error) {
	var t Token
	if err := xml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
