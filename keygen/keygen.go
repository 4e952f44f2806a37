// Command keygen generates and validates API keys which grant access to the
// gateway administrative endpoints. Keys are signed with the api_key_salt from gateway.conf.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

// Generate API key
// Composition:
//
//	[1:algorithm version][4:appid][2:key sequence][1:isRoot][16:signature] = 24 bytes
//
// convertible to base64 without padding
// All integers are little-endian
func main() {
	var appId = flag.Int("appid", 0, "App ID to sign")
	var version = flag.Int("sequence", 1, "Sequential number of the API key")
	var isRoot = flag.Int("isroot", 0, "Is this a root API key?")
	var apikey = flag.String("validate", "", "API key to validate")
	var salt = flag.String("salt", "", "API key salt from gateway.conf, base64-encoded")

	flag.Parse()

	hmacSalt, err := base64.StdEncoding.DecodeString(*salt)
	if err != nil || len(hmacSalt) == 0 {
		fmt.Println("Missing or invalid --salt: must be the base64-encoded api_key_salt")
		os.Exit(1)
	}

	if *appId != 0 {
		key := generate(*appId, *version, *isRoot, hmacSalt)
		var strIsRoot string
		if *isRoot == 1 {
			strIsRoot = "ROOT"
		} else {
			strIsRoot = "ordinary"
		}
		fmt.Printf("API key v%d for (%d:%d), %s: %s\n", 1, *appId, *version, strIsRoot, key)
	} else if *apikey != "" {
		appid, sequence, root, err := validate(*apikey, hmacSalt)
		if err != nil {
			fmt.Println("INVALID:", *apikey, err)
			os.Exit(1)
		}
		var strIsRoot string
		if root {
			strIsRoot = "ROOT"
		} else {
			strIsRoot = "ordinary"
		}
		fmt.Printf("Valid (%d:%d), %s\n", appid, sequence, strIsRoot)
	} else {
		flag.Usage()
	}
}

const (
	APIKEY_VERSION   = 1
	APIKEY_APPID     = 4
	APIKEY_SEQUENCE  = 2
	APIKEY_WHO       = 1
	APIKEY_SIGNATURE = 16
	APIKEY_LENGTH    = APIKEY_VERSION + APIKEY_APPID + APIKEY_SEQUENCE + APIKEY_WHO + APIKEY_SIGNATURE
)

func generate(appId, sequence, isRoot int, hmacSalt []byte) string {
	var data [APIKEY_LENGTH]byte

	// [1:algorithm version][4:appid][2:key sequence][1:isRoot]
	data[0] = 1 // default algorithm
	binary.LittleEndian.PutUint32(data[APIKEY_VERSION:], uint32(appId))
	binary.LittleEndian.PutUint16(data[APIKEY_VERSION+APIKEY_APPID:], uint16(sequence))
	data[APIKEY_VERSION+APIKEY_APPID+APIKEY_SEQUENCE] = uint8(isRoot)

	hasher := hmac.New(md5.New, hmacSalt)
	hasher.Write(data[:APIKEY_VERSION+APIKEY_APPID+APIKEY_SEQUENCE+APIKEY_WHO])
	signature := hasher.Sum(nil)

	copy(data[APIKEY_VERSION+APIKEY_APPID+APIKEY_SEQUENCE+APIKEY_WHO:], signature)

	return base64.URLEncoding.EncodeToString(data[:])
}

func validate(apikey string, hmacSalt []byte) (appid uint32, sequence uint16, isRoot bool, err error) {
	if declen := base64.URLEncoding.DecodedLen(len(apikey)); declen != APIKEY_LENGTH {
		err = errors.New("invalid key length")
		return
	}

	data, err := base64.URLEncoding.DecodeString(apikey)
	if err != nil {
		return
	}

	if data[0] != 1 {
		err = fmt.Errorf("unknown signature algorithm %d", data[0])
		return
	}

	hasher := hmac.New(md5.New, hmacSalt)
	hasher.Write(data[:APIKEY_VERSION+APIKEY_APPID+APIKEY_SEQUENCE+APIKEY_WHO])
	if !hmac.Equal(data[APIKEY_VERSION+APIKEY_APPID+APIKEY_SEQUENCE+APIKEY_WHO:], hasher.Sum(nil)) {
		err = errors.New("invalid signature")
		return
	}

	// [1:algorithm version][4:appid][2:key sequence][1:isRoot]
	buf := bytes.NewReader(data[APIKEY_VERSION:])
	binary.Read(buf, binary.LittleEndian, &appid)
	binary.Read(buf, binary.LittleEndian, &sequence)
	var who uint8
	binary.Read(buf, binary.LittleEndian, &who)
	isRoot = who == 1
	return
}
