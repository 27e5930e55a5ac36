package notify

import (
	"fmt"
	"strings"
	"time"
)

// Template names a canned security notification.
type Template string

const (
	TemplateWelcome         Template = "welcome"
	TemplateLoginSuccess    Template = "login_success"
	TemplateLoginFailed     Template = "login_failed"
	TemplateAccountLocked   Template = "account_locked"
	TemplatePasswordChanged Template = "password_changed"
	TemplateEmailVerified   Template = "email_verified"
	TemplateThreatDetected  Template = "threat_detected"
	TemplateAttackBlocked   Template = "attack_blocked"
)

// Render builds the notification for t. details fill the message and are
// attached as metadata. Unknown templates fall back to an info notification
// titled after the template name.
func Render(t Template, details map[string]string, at time.Time) Notification {
	get := func(key, fallback string) string {
		if v := details[key]; v != "" {
			return v
		}
		return fallback
	}
	stamp := at.UTC().Format("2006-01-02 15:04:05") + " UTC"

	n := Notification{Metadata: copyDetails(details)}
	switch t {
	case TemplateWelcome:
		n.Type, n.Title = KindSuccess, "Welcome to HavoSec!"
		n.Message = "Your account has been created. Please verify your email to access all features."
	case TemplateLoginSuccess:
		n.Type, n.Title = KindInfo, "New Login"
		n.Message = fmt.Sprintf("Successful login from %s at %s", get("ip", "unknown"), stamp)
	case TemplateLoginFailed:
		n.Type, n.Title = KindWarning, "Failed Login Attempt"
		n.Message = fmt.Sprintf("Failed login attempt from %s at %s", get("ip", "unknown"), stamp)
	case TemplateAccountLocked:
		n.Type, n.Title = KindError, "Account Locked"
		n.Message = fmt.Sprintf("Too many failed login attempts. Your account is locked until %s", get("lock_until", "later"))
	case TemplatePasswordChanged:
		n.Type, n.Title = KindSuccess, "Password Changed"
		n.Message = "Your password was successfully changed"
	case TemplateEmailVerified:
		n.Type, n.Title = KindSuccess, "Email Verified"
		n.Message = "Your email address has been verified"
	case TemplateThreatDetected:
		n.Type, n.Title = KindError, "Threat Detected"
		n.Message = "Security threat detected: " + get("threat_type", "Unknown threat")
	case TemplateAttackBlocked:
		n.Type, n.Title = KindSuccess, "Attack Blocked"
		n.Message = fmt.Sprintf("Blocked %s from %s", get("attack_type", "attack"), get("source", "unknown source"))
	default:
		n.Type, n.Title = KindInfo, titleCase(string(t))
		n.Message = n.Title
	}
	return n
}

func titleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func copyDetails(details map[string]string) map[string]string {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]string, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}
