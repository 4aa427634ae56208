package classifier

import "testing"

func TestResultValidate(t *testing.T) {
	cases := []struct {
		name    string
		result  Result
		wantErr bool
	}{
		{name: "ok", result: Result{DiseaseName: "Tomato___Late_blight", Confidence: 0.87}},
		{name: "bounds", result: Result{DiseaseName: "Healthy", Confidence: 1}},
		{name: "missing name", result: Result{Confidence: 0.5}, wantErr: true},
		{name: "negative", result: Result{DiseaseName: "x", Confidence: -0.1}, wantErr: true},
		{name: "above one", result: Result{DiseaseName: "x", Confidence: 87}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.result.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
