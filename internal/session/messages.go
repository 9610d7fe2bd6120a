package session

import (
	"errors"
	"fmt"

	"github.com/foxseedlab/lessoncall/internal/media"
)

const (
	messageProvisionFailed = "The call room could not be created."
	messageJoinFailed      = "Could not connect to the call room."
	messageConnectionLost  = "The connection to the call was lost."
	messageMicUnavailable  = "Microphone change was rejected. Check the browser or device permission."
	messageCameraRejected  = "Camera change was rejected. Check the browser or device permission."
	messageCameraFailed    = "The camera stopped working. The call continues with audio only."
	messageVideoNotOffered = "Video is not available for this call."
)

// TroubleshootingChecklist is shown with every provisioning or connection
// failure.
var TroubleshootingChecklist = []string{
	"Check that your internet connection is stable.",
	"Allow microphone and camera access for this site.",
	"Close other applications that may be using the microphone or camera.",
	"Reload the page and try the call again.",
	"If the problem continues, contact the academy office.",
}

func failureMessage(kind TriggerKind, err error) string {
	var headline string
	switch kind {
	case TriggerProvisionFailed:
		headline = messageProvisionFailed
	case TriggerJoinFailed:
		headline = messageJoinFailed
	default:
		headline = messageConnectionLost
	}
	if err == nil {
		return headline
	}
	return fmt.Sprintf("%s (%s)", headline, err.Error())
}

func deviceWarning(video bool, err error) string {
	if errors.Is(err, media.ErrDeviceUnsupported) {
		return messageVideoNotOffered
	}
	if video {
		return messageCameraRejected
	}
	return messageMicUnavailable
}
