package storage

import "testing"

func TestKeyFromReference(t *testing.T) {
	const bucket = "inkframe-materials"

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{
			name: "bare key",
			ref:  "images/ab12.png",
			want: "images/ab12.png",
		},
		{
			name: "leading slash bare key",
			ref:  "/images/ab12.png",
			want: "images/ab12.png",
		},
		{
			name: "public url",
			ref:  "https://proj.supabase.co/storage/v1/object/public/inkframe-materials/images/ab12.png",
			want: "images/ab12.png",
		},
		{
			name: "signed url with query",
			ref:  "https://proj.supabase.co/storage/v1/object/sign/inkframe-materials/audio/cd34.mp3?token=abc&expires=1",
			want: "audio/cd34.mp3",
		},
		{
			name: "unrecognized url",
			ref:  "https://example.com/not-a-storage-url",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KeyFromReference(bucket, tt.ref)
			if got != tt.want {
				t.Errorf("KeyFromReference(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}
