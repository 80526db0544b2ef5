package h02

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	decoder := NewDecoder()

	got, err := decoder.Parse([]byte("*HQ,865205030330012,V1,145452,A,2240.55181,N,11358.32389,E,0.00,0.00,100815,FFFFFBFF#"))
	require.NoError(t, err)

	assert.Equal(t, "865205030330012", got.IMEI)
	assert.True(t, got.HasFix())
	assert.True(t, got.Valid)
	assert.InDelta(t, 22.6758635, got.Latitude, 1e-6)
	assert.InDelta(t, 113.9720648, got.Longitude, 1e-6)
	assert.Equal(t, time.Date(2015, 8, 10, 14, 54, 52, 0, time.UTC), got.Timestamp)
	assert.Empty(t, got.Alarm)
	assert.False(t, got.Ignition)
	assert.Equal(t, "FFFFFBFF", got.Status["status"])
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		check   func(t *testing.T, got *H02Data)
		wantErr error
	}{
		{
			name: "southern and western hemispheres with speed",
			data: "*HQ,4210051415,V1,081611,A,3345.5678,S,07035.1234,W,10.00,270,010124,FFFFFFFF#",
			check: func(t *testing.T, got *H02Data) {
				assert.InDelta(t, -33.7594633, got.Latitude, 1e-6)
				assert.InDelta(t, -70.58539, got.Longitude, 1e-6)
				assert.InDelta(t, 18.52, got.Speed, 1e-9)
				assert.Equal(t, 270.0, got.Course)
				assert.True(t, got.Ignition)
			},
		},
		{
			name: "invalid fix with sos alarm",
			data: "*HQ,4210051415,V1,081611,V,3345.5678,N,07035.1234,E,0,0,010124,FFFFFFFD#",
			check: func(t *testing.T, got *H02Data) {
				assert.False(t, got.Valid)
				assert.Equal(t, "sos", got.Alarm)
				assert.Equal(t, "sos", got.Status["alarm"])
			},
		},
		{
			name: "command reply carries location",
			data: "*HQ,4210051415,V4,S20,081600,081611,A,3345.5678,N,07035.1234,E,0,0,010124,FFFFFFFF#",
			check: func(t *testing.T, got *H02Data) {
				assert.True(t, got.HasFix())
				assert.InDelta(t, 33.7594633, got.Latitude, 1e-6)
			},
		},
		{
			name: "heartbeat",
			data: "*HQ,4210051415,XT,1,100#",
			check: func(t *testing.T, got *H02Data) {
				assert.False(t, got.HasFix())
				assert.Equal(t, "4210051415", got.IMEI)
			},
		},
		{
			name:    "invalid header",
			data:    "*XX,4210051415,V1,081611#",
			wantErr: ErrInvalidHeader,
		},
		{
			name:    "packet too short",
			data:    "*HQ#",
			wantErr: ErrPacketTooShort,
		},
		{
			name:    "unsupported message type",
			data:    "*HQ,4210051415,V9,081611#",
			wantErr: ErrInvalidMessageType,
		},
		{
			name:    "truncated location",
			data:    "*HQ,4210051415,V1,081611,A,3345.5678#",
			wantErr: ErrInvalidFormat,
		},
		{
			name:    "invalid coordinate",
			data:    "*HQ,4210051415,V1,081611,A,INVALID,N,07035.1234,E,0,0,010124#",
			wantErr: ErrInvalidCoordinate,
		},
		{
			name:    "latitude out of range",
			data:    "*HQ,4210051415,V1,081611,A,9237.7514,N,07035.1234,E,0,0,010124#",
			wantErr: ErrInvalidCoordinate,
		},
		{
			name:    "longitude out of range",
			data:    "*HQ,4210051415,V1,081611,A,2237.7514,N,19908.6214,E,0,0,010124#",
			wantErr: ErrInvalidCoordinate,
		},
		{
			name:    "bad date",
			data:    "*HQ,4210051415,V1,081611,A,2237.7514,N,11408.6214,E,0,0,991399#",
			wantErr: ErrInvalidTime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewDecoder().Parse([]byte(tt.data))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestDecodeToPosition(t *testing.T) {
	decoder := NewDecoder()
	assert.Equal(t, ProtocolName, decoder.Protocol())

	imei, position, err := decoder.Decode([]byte("*HQ,865205030330012,V1,145452,A,2240.55181,N,11358.32389,E,5.00,90.5,100815,FFFFFBFF"))
	require.NoError(t, err)
	require.NotNil(t, position)

	assert.Equal(t, "865205030330012", imei)
	assert.Equal(t, ProtocolName, position.Protocol)
	assert.Empty(t, position.DeviceID)
	assert.InDelta(t, 9.26, position.Speed, 1e-9)
	assert.Equal(t, 90.5, position.Course)
	assert.Equal(t, time.Date(2015, 8, 10, 14, 54, 52, 0, time.UTC), position.FixTime)
	assert.Equal(t, false, position.Attributes["ignition"])

	imei, position, err = decoder.Decode([]byte("*HQ,865205030330012,LINK,145452,10,0,90,0,0#"))
	require.NoError(t, err)
	assert.Equal(t, "865205030330012", imei)
	assert.Nil(t, position)
}
