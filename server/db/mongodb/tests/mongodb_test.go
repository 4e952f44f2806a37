// Integration tests of the MongoDB adapter. They run against a live database
// described by the file passed as --config and are skipped when it is unavailable.
package tests

import (
	"flag"
	"log"
	"os"
	"testing"

	"github.com/aigentx/gateway/server/db/common/testsuite"
	backend "github.com/aigentx/gateway/server/db/mongodb"
	"github.com/aigentx/gateway/server/store/adapter"
)

var conffile = flag.String("config", "./test.conf", "config of the database connection")

var adp adapter.Adapter
var testData *testsuite.TestData

func TestMain(m *testing.M) {
	flag.Parse()

	adp = backend.GetTestAdapter()
	if err := testsuite.OpenTestAdapter(adp, *conffile); err != nil {
		log.Println("MongoDB unavailable, skipping tests:", err)
		os.Exit(0)
	}
	testData = testsuite.InitTestData()

	code := m.Run()
	adp.Close()
	os.Exit(code)
}

func TestTopicCreate(t *testing.T) {
	testsuite.RunTopicCreate(t, adp, testData)
}

func TestTopicGet(t *testing.T) {
	testsuite.RunTopicGet(t, adp, testData)
}

func TestMemberAdd(t *testing.T) {
	testsuite.RunMemberAdd(t, adp, testData)
}

func TestMemberAddConcurrent(t *testing.T) {
	testsuite.RunMemberAddConcurrent(t, adp, testData)
}
