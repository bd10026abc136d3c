package blob

import (
	"context"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		cfg     Config
		want    Driver
		wantErr bool
	}{
		{name: "default is fs", cfg: Config{FSRoot: t.TempDir()}, want: DriverFilesystem},
		{name: "memory", cfg: Config{Driver: DriverMemory}, want: DriverMemory},
		{name: "s3 needs bucket", cfg: Config{Driver: DriverS3}, wantErr: true},
		{name: "unknown", cfg: Config{Driver: "tape"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := Open(ctx, tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if store.Driver() != tc.want {
				t.Fatalf("driver %s, want %s", store.Driver(), tc.want)
			}
		})
	}
}
