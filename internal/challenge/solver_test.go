package challenge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInjectionScriptTargetsProviderField(t *testing.T) {
	t.Parallel()

	script, err := injectionScript(ProviderHCaptcha, `tok"en`)
	require.NoError(t, err)
	require.Contains(t, script, `[name="h-captcha-response"]`)
	require.Contains(t, script, `var token = "tok\"en";`)

	script, err = injectionScript(ProviderRecaptcha, "t")
	require.NoError(t, err)
	require.Contains(t, script, "g-recaptcha-response")

	script, err = injectionScript(ProviderTurnstile, "t")
	require.NoError(t, err)
	require.Contains(t, script, "cf-turnstile-response")
}
