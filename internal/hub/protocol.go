package hub

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame types spoken by the hub. Kept local so the fake hub does not depend
// on the client package it is used to test.
const (
	typeWelcome               = "welcome"
	typeSubscriptionConfirmed = "subscription-confirmed"
	typeMatchUpdated          = "match-updated"
	typeHeartbeatAck          = "heartbeat-ack"
	typeError                 = "error"
	typeReply                 = "reply"

	typeHeartbeat    = "heartbeat"
	typeSubscribe    = "subscribe-tournament"
	typeUnsubscribe  = "unsubscribe-tournament"
	typeSubmitResult = "submit-result"
	typeAck          = "ack"
	typeAckError     = "ack-error"
)

// ============================================================================
// Server Message Builders
// ============================================================================

// buildWelcomeMessage creates the greeting sent right after upgrade.
func buildWelcomeMessage(connectionID, hubName string) []byte {
	msg := map[string]interface{}{
		"type": typeWelcome,
		"data": map[string]interface{}{
			"connectionId": connectionID,
			"message":      "welcome to " + hubName,
		},
		"timestamp": time.Now().UnixMilli(),
	}
	data, _ := json.Marshal(msg)
	return data
}

// buildSubscriptionConfirmed confirms a tournament subscription.
func buildSubscriptionConfirmed(tournamentID string) []byte {
	msg := map[string]interface{}{
		"type":      typeSubscriptionConfirmed,
		"data":      map[string]interface{}{"tournamentId": tournamentID},
		"timestamp": time.Now().UnixMilli(),
	}
	data, _ := json.Marshal(msg)
	return data
}

// buildHeartbeatAck answers a client heartbeat.
func buildHeartbeatAck(now time.Time) []byte {
	msg := map[string]interface{}{
		"type":      typeHeartbeatAck,
		"data":      map[string]interface{}{"serverTime": now.UnixMilli()},
		"timestamp": now.UnixMilli(),
	}
	data, _ := json.Marshal(msg)
	return data
}

// buildReply creates the inline reply to a submit-result request.
func buildReply(requestID string, success bool, reason string) []byte {
	msg := map[string]interface{}{
		"type":      typeReply,
		"requestId": requestID,
		"success":   success,
	}
	if reason != "" {
		msg["error"] = reason
	}
	data, _ := json.Marshal(msg)
	return data
}

// buildErrorMessage creates a hub error event.
func buildErrorMessage(code, message, requestID string) []byte {
	payload := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if requestID != "" {
		payload["requestId"] = requestID
	}
	msg := map[string]interface{}{
		"type":      typeError,
		"data":      payload,
		"timestamp": time.Now().UnixMilli(),
	}
	data, _ := json.Marshal(msg)
	return data
}

// buildMatchUpdated wraps a submitted result in a match-updated event.
func buildMatchUpdated(result, statistics map[string]interface{}) []byte {
	payload := map[string]interface{}{
		"matchUpdate": result,
	}
	if statistics != nil {
		payload["statistics"] = statistics
	}
	msg := map[string]interface{}{
		"type":      typeMatchUpdated,
		"data":      payload,
		"timestamp": time.Now().UnixMilli(),
	}
	data, _ := json.Marshal(msg)
	return data
}

// ============================================================================
// Client Message Parsing
// ============================================================================

type heartbeatRequest struct{}

type subscribeRequest struct {
	tournament string
}

type unsubscribeRequest struct {
	tournament string
}

type ackMessage struct {
	receivedType string
	matchID      string
	reason       string
	failed       bool
}

type submitRequest struct {
	requestID  string
	result     map[string]interface{}
	statistics map[string]interface{}
}

// parseClientMessage parses a JSON frame sent by a client.
func parseClientMessage(data []byte) (any, error) {
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal client message: %w", err)
	}

	msgType, _ := msg["type"].(string)

	switch msgType {
	case typeHeartbeat:
		return &heartbeatRequest{}, nil

	case typeSubscribe:
		id, _ := msg["data"].(string)
		if id == "" {
			return nil, fmt.Errorf("subscribe without tournament id")
		}
		return &subscribeRequest{tournament: id}, nil

	case typeUnsubscribe:
		id, _ := msg["data"].(string)
		return &unsubscribeRequest{tournament: id}, nil

	case typeAck, typeAckError:
		payload, _ := msg["data"].(map[string]interface{})
		ack := &ackMessage{failed: msgType == typeAckError}
		ack.receivedType, _ = payload["receivedType"].(string)
		ack.matchID, _ = payload["matchId"].(string)
		ack.reason, _ = payload["error"].(string)
		return ack, nil

	case typeSubmitResult:
		req := &submitRequest{}
		req.requestID, _ = msg["requestId"].(string)
		req.result, _ = msg["result"].(map[string]interface{})
		req.statistics, _ = msg["statistics"].(map[string]interface{})
		if req.requestID == "" {
			return nil, fmt.Errorf("submit-result without requestId")
		}
		return req, nil

	default:
		return nil, fmt.Errorf("unknown client message type: %s", msgType)
	}
}
