package formatter

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/m-lab/go/testingx"
	"github.com/trendy-data/trendy/trend"
)

var testRecords = []trend.Record{
	{
		Date:           civil.Date{Year: 2018, Month: 6, Day: 3},
		DateRange:      "Jun 3 – 9, 2018",
		Timestamp:      1527984000,
		Query:          "coffee, beans",
		Value:          "68",
		ExtractedValue: 68,
	},
	{
		Date:      civil.Date{Year: 2018, Month: 6, Day: 10},
		Timestamp: 1528588800,
		Query:     "coffee, beans",
		Value:     "<1",
		Partial:   true,
	},
}

func TestFormatters(t *testing.T) {
	for _, name := range []string{"csv", "parquet", "json"} {
		t.Run(name, func(t *testing.T) {
			f, err := ByName(name)
			testingx.Must(t, err, "unknown format")
			if f.Name() != name {
				t.Errorf("Name() = %q, want %q", f.Name(), name)
			}
			b, err := f.Marshal(testRecords)
			testingx.Must(t, err, "cannot marshal")
			got, err := f.Unmarshal(b)
			testingx.Must(t, err, "cannot unmarshal")
			if !reflect.DeepEqual(got, testRecords) {
				t.Errorf("Unmarshal(Marshal()) = %+v, want %+v", got, testRecords)
			}
		})
	}
}

func TestByName_Unknown(t *testing.T) {
	if _, err := ByName("xlsx"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("ByName() error = %v, want ErrUnknownFormat", err)
	}
}

func TestCSV_Marshal(t *testing.T) {
	b, err := CSV{}.Marshal(testRecords[:1])
	testingx.Must(t, err, "cannot marshal")
	want := "date,date_range,timestamp,query,value,extracted_value,partial_data\n" +
		"2018-06-03,\"Jun 3 – 9, 2018\",1527984000,\"coffee, beans\",68,68,false\n"
	if string(b) != want {
		t.Errorf("Marshal() = %q, want %q", b, want)
	}
}

func TestCSV_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []trend.Record
		wantErr string
	}{
		{
			name: "reordered-and-partial-columns",
			in:   "query,extracted_value,date\nphone case,42,2023-02-15\n",
			want: []trend.Record{
				{Date: civil.Date{Year: 2023, Month: 2, Day: 15}, Query: "phone case", ExtractedValue: 42},
			},
		},
		{
			name:    "missing-date-column",
			in:      "query,value\na,1\n",
			wantErr: "missing column",
		},
		{
			name:    "bad-date",
			in:      "date,query\n15/02/2023,a\n",
			wantErr: "line 2",
		},
		{
			name:    "empty",
			in:      "",
			wantErr: "missing header",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CSV{}.Unmarshal([]byte(tt.in))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Unmarshal() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			testingx.Must(t, err, "cannot unmarshal")
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Unmarshal() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
