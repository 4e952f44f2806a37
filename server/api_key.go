/******************************************************************************
 *
 *  Description :
 *
 *  Validation of API keys which grant access to the administrative endpoints.
 *
 *****************************************************************************/

package main

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"net/http"

	"github.com/aigentx/gateway/server/logs"
)

// Singned AppID. Composition:
//
//	[1:algorithm version][4:appid][2:key sequence][1:isRoot][16:signature] = 24 bytes
//
// convertible to base64 without padding
// All integers are little-endian
const (
	APIKEY_VERSION   = 1
	APIKEY_APPID     = 4
	APIKEY_SEQUENCE  = 2
	APIKEY_WHO       = 1
	APIKEY_SIGNATURE = 16
	APIKEY_LENGTH    = APIKEY_VERSION + APIKEY_APPID + APIKEY_SEQUENCE + APIKEY_WHO + APIKEY_SIGNATURE
)

// Client signature validation
//
//	key: client's secret key
//
// Returns validity and key type
func checkAPIKey(apikey string) (isValid, isRoot bool) {
	if declen := base64.URLEncoding.DecodedLen(len(apikey)); declen != APIKEY_LENGTH {
		return
	}

	data, err := base64.URLEncoding.DecodeString(apikey)
	if err != nil {
		logs.Warn.Println("failed to decode.base64 appid ", err)
		return
	}
	if data[0] != 1 {
		logs.Warn.Println("unknown appid signature algorithm ", data[0])
		return
	}

	hasher := hmac.New(md5.New, globals.apiKeySalt)
	hasher.Write(data[:APIKEY_VERSION+APIKEY_APPID+APIKEY_SEQUENCE+APIKEY_WHO])
	check := hasher.Sum(nil)
	if !hmac.Equal(data[APIKEY_VERSION+APIKEY_APPID+APIKEY_SEQUENCE+APIKEY_WHO:], check) {
		logs.Warn.Println("invalid apikey signature")
		return
	}

	isRoot = (data[APIKEY_VERSION+APIKEY_APPID+APIKEY_SEQUENCE] == 1)

	isValid = true

	return
}

// getAPIKey reads the API key from the request header or the query string.
func getAPIKey(req *http.Request) string {
	apikey := req.Header.Get("X-Gateway-APIKey")
	if apikey == "" {
		apikey = req.URL.Query().Get("apikey")
	}
	return apikey
}

// requireRootKey rejects requests without a valid root API key.
func requireRootKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
		if isValid, isRoot := checkAPIKey(getAPIKey(req)); !isValid || !isRoot {
			logs.Warn.Println("admin: missing, invalid or non-root API key", req.RemoteAddr, req.URL.Path)
			writeError(wrt, http.StatusForbidden, "valid root API key required")
			return
		}
		next.ServeHTTP(wrt, req)
	})
}
