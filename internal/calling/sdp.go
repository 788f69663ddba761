package calling

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/sdp/v3"
)

type offerInfo struct {
	supportsPCMU bool
	supportsPCMA bool
	remoteAddr   *net.UDPAddr
}

// parseOffer extracts the codecs and the remote RTP address from an SDP
// offer. The address may still be corrected later from the first received
// packet (symmetric RTP).
func parseOffer(body []byte) (*offerInfo, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("parse sdp offer: %w", err)
	}

	info := &offerInfo{}
	remoteIP := ""
	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		remoteIP = sd.ConnectionInformation.Address.Address
	}

	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			remoteIP = md.ConnectionInformation.Address.Address
		}
		for _, format := range md.MediaName.Formats {
			var payloadType uint8
			if _, err := fmt.Sscanf(format, "%d", &payloadType); err != nil {
				continue
			}
			codec, err := sd.GetCodecForPayloadType(payloadType)
			if err != nil {
				// Static payload types have no rtpmap line.
				switch payloadType {
				case payloadTypePCMU:
					info.supportsPCMU = true
				case payloadTypePCMA:
					info.supportsPCMA = true
				}
				continue
			}
			if codec.Name == "PCMU" && codec.ClockRate == 8000 {
				info.supportsPCMU = true
			}
			if codec.Name == "PCMA" && codec.ClockRate == 8000 {
				info.supportsPCMA = true
			}
		}
		if remoteIP != "" && md.MediaName.Port.Value > 0 {
			ip := net.ParseIP(remoteIP)
			if ip != nil {
				info.remoteAddr = &net.UDPAddr{IP: ip, Port: md.MediaName.Port.Value}
			}
		}
		break
	}

	if !info.supportsPCMU && !info.supportsPCMA {
		return nil, fmt.Errorf("offer carries no G.711 audio")
	}
	return info, nil
}

// buildAnswer produces the SDP answer for the selected codec.
func buildAnswer(localIP string, rtpPort int, codec string) ([]byte, error) {
	sessionID := uint64(time.Now().Unix())
	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localIP,
		},
		SessionName: "klaragw",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: localIP},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	mediaDesc := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "audio",
			Port:   sdp.RangedPort{Value: rtpPort},
			Protos: []string{"RTP", "AVP"},
		},
		Attributes: []sdp.Attribute{
			{Key: "sendrecv"},
		},
	}
	switch codec {
	case "PCMA":
		mediaDesc = mediaDesc.WithCodec(payloadTypePCMA, "PCMA", 8000, 1, "")
		mediaDesc.MediaName.Formats = []string{fmt.Sprintf("%d", payloadTypePCMA)}
	default:
		mediaDesc = mediaDesc.WithCodec(payloadTypePCMU, "PCMU", 8000, 1, "")
		mediaDesc.MediaName.Formats = []string{fmt.Sprintf("%d", payloadTypePCMU)}
	}
	sd.MediaDescriptions = []*sdp.MediaDescription{mediaDesc}

	return sd.Marshal()
}
