package partition

import (
	"errors"
	"reflect"
	"testing"
)

func phoneCase() []Field {
	return []Field{
		{Name: "keyword", Value: "phone case"},
		{Name: "category", Value: "all"},
		{Name: "country", Value: "DE", Verbatim: true},
		{Name: "frequency", Value: "1W", Verbatim: true},
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "phone case", want: "phone-case"},
		{in: "today 5-y", want: "today-5-y"},
		{in: "Crème Brûlée", want: "creme-brulee"},
		{in: "  --Hello,   World!--  ", want: "hello-world"},
		{in: "0", want: "0"},
		{in: "", want: ""},
		{in: "phone-case", want: "phone-case"},
		{in: "Straße", want: "strasse"},
		{in: "Телефон", want: "телефон"},
		{in: "чехол для телефона", want: "чехол-для-телефона"},
		{in: "Ελλάδα", want: "ελλαδα"},
		{in: "手机壳", want: "手机壳"},
		{in: "手机壳 (red)", want: "手机壳-red"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Slugify(tt.in)
			if got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := Slugify(got); again != got {
				t.Errorf("Slugify is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestPath(t *testing.T) {
	tests := []struct {
		name    string
		fields  []Field
		want    string
		wantErr error
	}{
		{
			name:   "declared-order",
			fields: phoneCase(),
			want:   "keyword=phone-case/category=all/country=DE/frequency=1W",
		},
		{
			name: "missing-value",
			fields: []Field{
				{Name: "keyword", Value: "phone case"},
				{Name: "geo", Value: "", Verbatim: true},
			},
			wantErr: ErrMissingField,
		},
		{
			name: "slug-to-empty",
			fields: []Field{
				{Name: "keyword", Value: "!!!"},
			},
			wantErr: ErrMissingField,
		},
		{
			name: "duplicate-name",
			fields: []Field{
				{Name: "keyword", Value: "a"},
				{Name: "keyword", Value: "b"},
			},
			wantErr: ErrDuplicateField,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Path(tt.fields...)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Path() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Path() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchema_Deterministic(t *testing.T) {
	first, err := Schema(phoneCase()...)
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		got, err := Schema(phoneCase()...)
		if err != nil {
			t.Fatalf("Schema() error = %v", err)
		}
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("Schema() = %v, want %v", got, first)
		}
	}
	again, err := Schema(first...)
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	if !reflect.DeepEqual(again, first) {
		t.Errorf("Schema() on resolved fields = %v, want %v", again, first)
	}
	names := []string{"keyword", "category", "country", "frequency"}
	for i, f := range first {
		if f.Name != names[i] {
			t.Errorf("field %d = %s, want %s", i, f.Name, names[i])
		}
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name   string
		parent string
		want   string
	}{
		{
			name:   "local",
			parent: "/tmp",
			want:   "/tmp/keyword=phone-case/category=all/country=DE/frequency=1W",
		},
		{
			name:   "root",
			parent: "/",
			want:   "/keyword=phone-case/category=all/country=DE/frequency=1W",
		},
		{
			name:   "gcs-trailing-slash",
			parent: "gs://bucket/trends/",
			want:   "gs://bucket/trends/keyword=phone-case/category=all/country=DE/frequency=1W",
		},
		{
			name:   "relative-empty",
			parent: "",
			want:   "keyword=phone-case/category=all/country=DE/frequency=1W",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Build(tt.parent, phoneCase()...)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Build() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestURL(t *testing.T) {
	fields := []Field{
		{Name: "keyword", Value: "curtain"},
		{Name: "cat", Value: "0"},
		{Name: "geo", Value: "DE", Verbatim: true},
		{Name: "timeframe", Value: "today 5-y"},
	}
	got, err := URL("https://storage.googleapis.com/trends-public/", fields,
		"format=json", "snapshot_date=latest", "data.json")
	if err != nil {
		t.Fatalf("URL() error = %v", err)
	}
	want := "https://storage.googleapis.com/trends-public/keyword=curtain/cat=0/geo=DE/timeframe=today-5-y/format=json/snapshot_date=latest/data.json"
	if got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestPath_nonLatinKeyword(t *testing.T) {
	got, err := Path(
		Field{Name: "keyword", Value: "чехол для телефона"},
		Field{Name: "geo", Value: "RU", Verbatim: true},
	)
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if want := "keyword=чехол-для-телефона/geo=RU"; got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}
