package security

import "testing"

func TestValidateEndpointURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public ip literal", "https://93.184.216.34/webhooks", false},
		{"loopback literal", "http://127.0.0.1/hook", true},
		{"private literal", "http://192.168.1.10:8080/hook", true},
		{"ten-dot literal", "http://10.1.2.3/hook", true},
		{"link-local metadata", "http://169.254.169.254/latest/meta-data/", true},
		{"unspecified", "http://0.0.0.0/hook", true},
		{"localhost", "http://localhost:3000/hook", true},
		{"gcp metadata hostname", "http://metadata.google.internal/computeMetadata/v1/", true},
		{"bad scheme", "ftp://93.184.216.34/hook", true},
		{"no host", "https:///hook", true},
		{"garbage", "://not-a-url", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEndpointURL(tc.url)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateEndpointURL(%q) = %v, wantErr %v", tc.url, err, tc.wantErr)
			}
		})
	}
}
