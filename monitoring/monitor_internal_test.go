package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/cohsim/mem/directory"
	"github.com/sarchlab/cohsim/noc/topology"
)

type sampleStruct struct {
	field1 int
	field2 string
	field3 *sampleStruct
	field4 []sampleStruct
}

type sampleComponent struct {
	name   string
	buffer sim.Buffer
	other  sim.Buffer
}

func (c *sampleComponent) Name() string {
	return c.name
}

var _ = Describe("Monitor", func() {
	var (
		m      *Monitor
		engine sim.Engine
		bank   *directory.Comp
	)

	get := func(url string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, url, nil)
		m.router().ServeHTTP(rec, req)

		return rec
	}

	BeforeEach(func() {
		m = NewMonitor()
		engine = sim.NewSerialEngine()
		m.RegisterEngine(engine)

		topo, err := topology.MakeBuilder().
			WithKind(topology.KindCrossbar).
			WithNumCores(2).
			WithNumBanks(1).
			Build()
		Expect(err).ToNot(HaveOccurred())

		bank = directory.MakeBuilder().
			WithEngine(engine).
			WithNumCores(2).
			WithTopology(topo).
			WithNumSets(4).
			WithNumWays(2).
			Build("Dir[0]")
	})

	It("should register components and internal buffers", func() {
		c := &sampleComponent{
			name:   "Comp",
			buffer: sim.NewBuffer("Comp.Buf", 10),
		}
		m.RegisterComponent(c)
		m.RegisterComponent(bank)

		Expect(m.components).To(HaveLen(2))
		Expect(m.buffers).To(HaveLen(3))
	})

	It("should list components", func() {
		m.RegisterComponent(bank)

		rec := get("/api/list_components")

		var names []string
		Expect(json.Unmarshal(rec.Body.Bytes(), &names)).To(Succeed())
		Expect(names).To(Equal([]string{"Dir[0]"}))
	})

	It("should report a directory bank", func() {
		m.RegisterComponent(bank)

		rec := get("/api/directory/Dir[0]")
		Expect(rec.Code).To(Equal(http.StatusOK))

		rsp := directoryRsp{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Name).To(Equal("Dir[0]"))
		Expect(rsp.StoreKind).To(Equal(bank.StoreKind()))
		Expect(rsp.Idle).To(BeTrue())
		Expect(rsp.Occupancy).To(BeZero())
	})

	It("should reject a component that is not a directory", func() {
		m.RegisterComponent(&sampleComponent{name: "Comp"})

		Expect(get("/api/directory/Comp").Code).To(Equal(http.StatusBadRequest))
		Expect(get("/api/directory/Dir[9]").Code).To(Equal(http.StatusNotFound))
	})

	It("should tell the time", func() {
		rec := get("/api/now")
		Expect(rec.Body.String()).To(Equal(`{"now":0.0000000000}`))
	})

	It("should sort and page the buffers", func() {
		c := &sampleComponent{
			name:   "Comp",
			buffer: sim.NewBuffer("Comp.Small", 2),
			other:  sim.NewBuffer("Comp.Large", 8),
		}
		c.buffer.Push(1)
		c.other.Push(1)
		c.other.Push(2)
		m.RegisterComponent(c)

		rec := get("/api/hangdetector/buffers?sort=level")
		Expect(rec.Body.String()).To(Equal(
			`[{"buffer":"Comp.Large","level":2,"cap":8},` +
				`{"buffer":"Comp.Small","level":1,"cap":2}]`))

		rec = get("/api/hangdetector/buffers?limit=1")
		Expect(rec.Body.String()).To(Equal(
			`[{"buffer":"Comp.Small","level":1,"cap":2}]`))

		rec = get("/api/hangdetector/buffers?offset=5")
		Expect(rec.Body.String()).To(Equal(`[]`))

		Expect(get("/api/hangdetector/buffers?sort=size").Code).
			To(Equal(http.StatusBadRequest))
	})

	It("should walk int fields", func() {
		s := &sampleStruct{
			field1: 1,
		}

		elem, err := m.walkFields(s, "field1")

		Expect(err).To(BeNil())
		Expect(elem.Kind()).To(Equal(reflect.Int))
		Expect(elem.Int()).To(Equal(int64(1)))
	})

	It("should walk string fields", func() {
		s := &sampleStruct{
			field2: "abc",
		}

		elem, err := m.walkFields(s, "field2")

		Expect(err).To(BeNil())
		Expect(elem.Kind()).To(Equal(reflect.String))
		Expect(elem.String()).To(Equal("abc"))
	})

	It("should walk recursively", func() {
		s := &sampleStruct{
			field3: &sampleStruct{
				field1: 1,
			},
		}

		elem, err := m.walkFields(s, "field3.field1")

		Expect(err).To(BeNil())
		Expect(elem.Int()).To(Equal(int64(1)))
	})

	It("should walk slice recursively", func() {
		s := &sampleStruct{
			field4: []sampleStruct{{
				field4: []sampleStruct{
					{field1: 1},
				},
			}, {}},
		}

		elem, err := m.walkFields(s, "field4.0.field4.0.field1")

		Expect(err).To(BeNil())
		Expect(elem.Int()).To(Equal(int64(1)))
	})

	It("should reject a bad slice index", func() {
		s := &sampleStruct{field4: []sampleStruct{{}}}

		_, err := m.walkFields(s, "field4.x")

		Expect(err).To(Equal(fieldFormatError{}))
	})
})

var _ = Describe("Monitor field values", func() {
	It("should print a value of a component", func() {
		m := NewMonitor()
		c := &sampleComponent{name: "Comp", buffer: sim.NewBuffer("Comp.Buf", 4)}
		m.RegisterComponent(c)

		rec := httptest.NewRecorder()
		m.router().ServeHTTP(rec,
			httptest.NewRequest(http.MethodGet, "/api/value/Comp/name", nil))
		Expect(rec.Body.String()).To(Equal("Comp"))

		rec = httptest.NewRecorder()
		m.router().ServeHTTP(rec,
			httptest.NewRequest(http.MethodGet, "/api/value/Comp/missing", nil))
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})
})
