package challenge

import (
	"context"
	"encoding/json"
	"fmt"
)

// Task is a request to an automated solving service.
type Task struct {
	Provider Provider
	SiteKey  string
	PageURL  string
}

// Solver obtains a response token for a challenge. Implementations bound
// their own wait.
type Solver interface {
	Solve(ctx context.Context, task Task) (string, error)
}

// injectionScript fills the hidden response fields used by the common
// widgets and invokes a registered callback when one exists.
func injectionScript(provider Provider, token string) (string, error) {
	quoted, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	field := "g-recaptcha-response"
	switch provider {
	case ProviderHCaptcha:
		field = "h-captcha-response"
	case ProviderTurnstile, ProviderCloudflare:
		field = "cf-turnstile-response"
	}
	return fmt.Sprintf(`(function(){
  var token = %s;
  document.querySelectorAll('[name="%s"], #%s').forEach(function(el){ el.value = token; el.innerHTML = token; });
  var holder = document.querySelector('[data-callback]');
  if (holder) { var cb = window[holder.getAttribute('data-callback')]; if (typeof cb === 'function') { cb(token); } }
})();`, quoted, field, field), nil
}
